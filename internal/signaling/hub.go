package signaling

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Hub is an in-process relay transport. Every HubClient created from it
// shares the same channel namespace.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*HubClient]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*HubClient]struct{})}
}

// NewClient returns a Relay bound to this hub.
func (h *Hub) NewClient() *HubClient {
	return &HubClient{hub: h, id: uuid.NewString()}
}

// Members reports how many clients are joined to the call's channel.
func (h *Hub) Members(callID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[callID])
}

func (h *Hub) add(callID string, c *HubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[callID]
	if !ok {
		members = make(map[*HubClient]struct{})
		h.channels[callID] = members
	}
	members[c] = struct{}{}
}

func (h *Hub) remove(callID string, c *HubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.channels[callID]
	delete(members, c)
	if len(members) == 0 {
		delete(h.channels, callID)
	}
}

func (h *Hub) publish(callID string, m Message) {
	h.mu.RLock()
	targets := make([]*HubClient, 0, len(h.channels[callID]))
	for c := range h.channels[callID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.id == m.Sender {
			continue
		}
		c.deliver(callID, m)
	}
}

// HubClient is a Relay backed by a Hub. Delivery is synchronous and in publish order.
type HubClient struct {
	hub *Hub
	id  string

	mu        sync.Mutex
	callID    string
	onMessage func(Message)
}

func (c *HubClient) ID() string { return c.id }

func (c *HubClient) Join(_ context.Context, callID string, onMessage func(Message)) error {
	if callID == "" || onMessage == nil {
		return ErrInvalidMessage
	}
	_ = c.Leave()

	c.mu.Lock()
	c.callID = callID
	c.onMessage = onMessage
	c.mu.Unlock()

	c.hub.add(callID, c)
	return nil
}

func (c *HubClient) Send(_ context.Context, callID string, msg Message) error {
	c.mu.Lock()
	joined := c.callID != ""
	c.mu.Unlock()
	if !joined {
		return nil
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	msg.Sender = c.id
	c.hub.publish(callID, msg)
	return nil
}

func (c *HubClient) Leave() error {
	c.mu.Lock()
	callID := c.callID
	c.callID = ""
	c.onMessage = nil
	c.mu.Unlock()

	if callID != "" {
		c.hub.remove(callID, c)
	}
	return nil
}

func (c *HubClient) deliver(callID string, m Message) {
	c.mu.Lock()
	fn := c.onMessage
	current := c.callID
	c.mu.Unlock()
	if fn == nil || current != callID {
		return
	}
	fn(m)
}
