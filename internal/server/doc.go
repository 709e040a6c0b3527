// Package server is the WebSocket transport in front of the coordinator.
//
// A Hub accepts connections, runs a read and a write pump per Client, and
// implements coordinator.Broadcaster over the clients' send queues. Inbound
// envelopes are decoded and routed to coordinator operations in dispatch.go;
// failures go back to the sender as call:error. Configuration is process
// wide and set with SetConfig before NewHub is called.
package server
