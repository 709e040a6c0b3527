package coordinator

import "github.com/sirupsen/logrus"

// Disconnect reconciles state after ep's transport closed. The order is
// fixed: calls are ended while the user's registry entry still exists, then
// the endpoint leaves every viewer set, then the registry entry goes and the
// presence snapshot is published. Disconnecting an unknown endpoint only
// purges viewer entries bound to it.
func (c *Coordinator) Disconnect(ep Endpoint) {
	if ep == nil {
		return
	}

	o, err := c.lock()
	if err != nil {
		return
	}
	defer c.unlock(o)

	userID, registered := c.reg.endpointToUser(ep)
	if registered {
		c.endCallsFor(o, userID, ReasonDisconnected)
	}

	for _, issueID := range c.viewers.purge(ep.ID()) {
		c.publishViewers(o, issueID)
	}

	if registered {
		c.reg.remove(ep)
		c.publishPresence(o)
	}

	c.log.WithFields(logrus.Fields{
		"endpoint":   ep.ID(),
		"user":       userID,
		"registered": registered,
		"online":     c.reg.len(),
	}).Info("Endpoint disconnected")
}
