package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/boardcall/internal/coordinator"
)

// Hub owns every live WebSocket connection and the Coordinator they drive.
// It registers and unregisters clients and implements
// coordinator.Broadcaster by fanning frames out to each client's send queue.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	coord    *coordinator.Coordinator
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewHub creates a Hub and its Coordinator from the active configuration.
// A nil logger selects the standard logrus logger.
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg := CurrentConfig()

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		log:        logger.WithField("component", "hub"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	h.coord = coordinator.New(h, coordinator.Options{
		EvictionDelay: cfg.Calls.EvictionDelay,
		RingTimeout:   cfg.Calls.RingTimeout,
		Logger:        logger,
	})
	return h
}

// Coordinator returns the coordinator driven by this hub.
func (h *Hub) Coordinator() *coordinator.Coordinator {
	return h.coord
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Upgrade upgrades r to a WebSocket and hands the connection to the hub.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, h, r.RemoteAddr)
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return h.ctx.Err()
	}
}

// Broadcast queues message on every registered client except except.
// Clients whose queue is full are dropped.
func (h *Hub) Broadcast(message []byte, except coordinator.Endpoint) {
	clients := h.getClientSnapshot()

	var failed []*Client
	for _, client := range clients {
		if except != nil && client.ID() == except.ID() {
			continue
		}
		if !h.safeSend(client, message) {
			failed = append(failed, client)
		}
	}

	h.log.WithFields(logrus.Fields{
		"recipients": len(clients) - len(failed),
		"bytes":      len(message),
	}).Debug("Broadcast")
	h.removeFailedClients(failed)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithField("panic", r).Error("Recovered from panic in safeSend")
		}
	}()

	// The read lock keeps the channel from being closed mid-send.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Run is the hub's event loop. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			client.log.WithField("clients", clientCount).Info("Client registered")

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closed = true
				clientCount := len(h.clients)
				h.mutex.Unlock()
				close(client.send)
				client.log.WithField("clients", clientCount).Info("Client unregistered")
			} else {
				h.mutex.Unlock()
			}
		}
	}
}

func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients drops clients that could not take a message and closes
// their queues, which makes their write pumps close the connection.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			client.log.Warn("Client removed due to full send buffer")
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes every queue so write pumps send a close frame and
// release their connections.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
		delete(h.clients, client)
		client.closed = true
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
	}

	h.log.WithField("clients", len(clients)).Info("Closed client connections")
}

// Shutdown stops the hub, closes every connection and the coordinator, and
// waits up to timeout for the client goroutines to finish.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")

	h.coord.Close()
	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
