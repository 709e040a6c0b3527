package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Relay forwards an opaque negotiation payload from the sender to targetID.
// The forwarded fromId is the user registered on from, never a value taken
// from the request. The signal bytes are passed through unchanged.
func (c *Coordinator) Relay(from Endpoint, callID string, signal json.RawMessage, targetID string) error {
	if from == nil || targetID == "" {
		return fmt.Errorf("%w: targetId is required", ErrInvalidRequest)
	}
	if len(signal) == 0 {
		return fmt.Errorf("%w: signal is required", ErrInvalidRequest)
	}

	o, err := c.lock()
	if err != nil {
		return err
	}
	defer c.unlock(o)

	fromID, ok := c.reg.endpointToUser(from)
	if !ok {
		return fmt.Errorf("sender %w", ErrUserNotFound)
	}
	target, ok := c.reg.lookup(targetID)
	if !ok {
		return ErrTargetOffline
	}

	c.log.WithFields(logrus.Fields{
		"call":  callID,
		"from":  fromID,
		"to":    targetID,
		"bytes": len(signal),
	}).Debug("Relaying signal")

	o.send(target.Endpoint, EventSignal, SignalForward{
		CallID: callID,
		Signal: signal,
		FromID: fromID,
	})
	return nil
}
