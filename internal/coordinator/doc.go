// Package coordinator implements the signaling coordinator behind the board:
// user presence, per-issue viewer sets, the call state machine, and the
// relay of opaque media-negotiation messages between two browser peers.
//
// A Coordinator is transport-agnostic. Connections are Endpoints that accept
// pre-encoded frames without blocking, and fan-out goes through a
// Broadcaster. Each operation mutates state under one mutex, collects the
// resulting events, and delivers them in mutation order after the state lock
// is released.
//
// Call lifecycle:
//
//	ringing ──accept──▶ connected ──end──▶ ended
//	   │                                    ▲
//	   ├──reject──▶ rejected                │
//	   └──end / disconnect / timeout ───────┘
//
// Terminal calls stay in the index for a grace period so a racing reject or
// end resolves to a silent no-op, then they are evicted.
package coordinator
