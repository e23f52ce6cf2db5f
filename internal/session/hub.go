// Package session implements the Session Hub (spec §4.4): the single
// WebSocket gateway that dispatches inbound requests by `type`, correlates
// RPC responses by `requestId`, and fans out topic events (agent_stream,
// checkout_diff, terminal, agent_directory) to subscribed connections.
package session

import (
	"context"
	"encoding/json"
	"sync"

	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/wsproto"
)

// TopicEvent is one fan-out push destined for every connection subscribed
// to Topic.
type TopicEvent struct {
	Topic     string
	Envelope  *wsproto.Envelope
	Multiplex *wsproto.MultiplexFrame
}

// HeartbeatPayload is the body of a `heartbeat` message (spec §4.4).
type HeartbeatPayload struct {
	DeviceType     string `json:"deviceType"`
	FocusedAgentID string `json:"focusedAgentId,omitempty"`
	AppVisible     bool   `json:"appVisible"`
	LastActivityAt string `json:"lastActivityAt,omitempty"`
}

// HeartbeatHandler is invoked on every `heartbeat` message, letting the
// Directory & Labels component update presence bookkeeping.
type HeartbeatHandler func(clientID string, payload HeartbeatPayload)

// MultiplexHandler is invoked on every inbound binary multiplex frame,
// letting the Terminal Service process Ack frames for its output backlog.
type MultiplexHandler func(client *Client, frame wsproto.MultiplexFrame)

// Hub owns every live connection and the topic subscription index.
type Hub struct {
	clients map[*Client]bool

	// topicSubscribers maps a topic (e.g. "agent_stream:<agentId>",
	// "terminal:<terminalId>", "agent_directory") to the set of clients
	// currently subscribed to it.
	topicSubscribers map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	publish    chan TopicEvent

	dispatcher *wsproto.Dispatcher

	heartbeatHandler HeartbeatHandler
	multiplexHandler MultiplexHandler

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a Hub routing requests through dispatcher.
func NewHub(dispatcher *wsproto.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:          make(map[*Client]bool),
		topicSubscribers: make(map[string]map[*Client]bool),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		publish:          make(chan TopicEvent, 256),
		dispatcher:       dispatcher,
		logger:           log.WithFields(),
	}
}

// Run is the hub's single-goroutine event loop for register, unregister and
// publish. topicSubscribers is guarded by mu, which Subscribe and
// Unsubscribe also take directly.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("session hub started")
	defer h.logger.Info("session hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.removeClient(client)

		case ev := <-h.publish:
			h.deliver(ev)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.closeSend()
		delete(h.clients, client)
	}
	h.topicSubscribers = make(map[string]map[*Client]bool)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	client.closeSend()

	for topic := range client.topicOf() {
		if subs, ok := h.topicSubscribers[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topicSubscribers, topic)
			}
		}
	}
}

func (h *Hub) deliver(ev TopicEvent) {
	var data []byte
	if ev.Multiplex != nil {
		data = wsproto.EncodeMultiplexFrame(*ev.Multiplex)
	} else if ev.Envelope != nil {
		var err error
		data, err = json.Marshal(ev.Envelope)
		if err != nil {
			h.logger.Error("failed to marshal topic event")
			return
		}
	} else {
		return
	}

	h.mu.RLock()
	subs := h.topicSubscribers[ev.Topic]
	clients := make([]*Client, 0, len(subs))
	for c := range subs {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	binary := ev.Multiplex != nil
	for _, c := range clients {
		c.sendBytes(data, binary)
	}
}

// Publish queues a topic event for fan-out to every subscribed client.
func (h *Hub) Publish(ev TopicEvent) {
	select {
	case h.publish <- ev:
	default:
		h.logger.Warn("hub publish queue full, dropping event")
	}
}

// Register adds client to the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// Subscribe opens or replaces client's subscription identified by
// subscriptionID to topic; a second subscribe with the same subscriptionID
// on the same connection replaces the previous one (spec §4.4 dedup rule).
func (h *Hub) Subscribe(client *Client, subscriptionID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prevTopic, ok := client.subscriptionTopic(subscriptionID); ok && prevTopic != topic {
		if subs, ok := h.topicSubscribers[prevTopic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topicSubscribers, prevTopic)
			}
		}
	}

	if _, ok := h.topicSubscribers[topic]; !ok {
		h.topicSubscribers[topic] = make(map[*Client]bool)
	}
	h.topicSubscribers[topic][client] = true
	client.setSubscription(subscriptionID, topic)
}

// Unsubscribe tears down client's subscriptionID, if any.
func (h *Hub) Unsubscribe(client *Client, subscriptionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topic, ok := client.subscriptionTopic(subscriptionID)
	if !ok {
		return
	}
	client.clearSubscription(subscriptionID)

	if subs, ok := h.topicSubscribers[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.topicSubscribers, topic)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dispatcher returns the request dispatcher backing this hub.
func (h *Hub) Dispatcher() *wsproto.Dispatcher { return h.dispatcher }

// SetHeartbeatHandler sets the callback invoked on every heartbeat message.
func (h *Hub) SetHeartbeatHandler(handler HeartbeatHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heartbeatHandler = handler
}

// SetMultiplexHandler sets the callback invoked on every inbound binary
// multiplex frame (e.g. terminal output Acks).
func (h *Hub) SetMultiplexHandler(handler MultiplexHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.multiplexHandler = handler
}

func (h *Hub) handleHeartbeat(client *Client, env *wsproto.Envelope) {
	h.mu.RLock()
	handler := h.heartbeatHandler
	h.mu.RUnlock()
	if handler == nil {
		return
	}

	var payload HeartbeatPayload
	if err := env.ParsePayload(&payload); err != nil {
		h.logger.Warn("invalid heartbeat payload")
		return
	}
	handler(client.ID, payload)
}

func (h *Hub) handleInboundMultiplex(client *Client, frame wsproto.MultiplexFrame) {
	h.mu.RLock()
	handler := h.multiplexHandler
	h.mu.RUnlock()
	if handler == nil {
		return
	}
	handler(client, frame)
}
