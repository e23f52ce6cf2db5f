package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	logger "github.com/paseohq/paseod/internal/logging"
	"github.com/paseohq/paseod/internal/wsproto"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Client is a single WebSocket connection (spec §4.4's "connection owns a
// unique clientId").
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan wireMessage

	mu            sync.Mutex
	closed        bool
	subscriptions map[string]string // subscriptionId -> topic

	logger *logger.Logger
}

type wireMessage struct {
	data   []byte
	binary bool
}

// NewClient wraps conn as a hub-managed connection.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan wireMessage, 256),
		subscriptions: make(map[string]string),
		logger:        log.WithFields(zap.String("client_id", id)),
	}
}

func (c *Client) topicOf() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	topics := make(map[string]bool, len(c.subscriptions))
	for _, topic := range c.subscriptions {
		topics[topic] = true
	}
	return topics
}

func (c *Client) subscriptionTopic(subscriptionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	topic, ok := c.subscriptions[subscriptionID]
	return topic, ok
}

func (c *Client) setSubscription(subscriptionID, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[subscriptionID] = topic
}

func (c *Client) clearSubscription(subscriptionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, subscriptionID)
}

// Subscribe opens or replaces this connection's subscriptionID binding to
// topic, a convenience wrapper around Hub.Subscribe for RPC handlers that
// only have the Client, not the Hub, in scope.
func (c *Client) Subscribe(subscriptionID, topic string) {
	c.hub.Subscribe(c, subscriptionID, topic)
}

// Unsubscribe tears down this connection's subscriptionID binding.
func (c *Client) Unsubscribe(subscriptionID string) {
	c.hub.Unsubscribe(c, subscriptionID)
}

// SendWelcome writes the initial `welcome` frame per spec §6.1.
func (c *Client) SendWelcome(serverID, hostname, version string, resumed bool) {
	env, _ := wsproto.NewEvent(wsproto.TypeWelcome, map[string]interface{}{
		"serverId": serverID,
		"hostname": hostname,
		"version":  version,
		"resumed":  resumed,
	})
	c.sendEnvelope(env)
}

// ReadPump pumps inbound frames from the connection to the hub's dispatcher.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("failed to close websocket connection", zap.Error(err))
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("failed to set read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}

		if kind == websocket.BinaryMessage {
			go c.handleBinary(message)
			continue
		}

		var env wsproto.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.sendEnvelope(wsproto.NewErrorResponse("", "", wsproto.ErrorKindValidation, "invalid message format"))
			continue
		}

		// Handled messages process concurrently so a long-running
		// request (e.g. send_message) never blocks other traffic on
		// the same connection (e.g. heartbeat, cancel_turn).
		go c.handleEnvelope(ctx, &env)
	}
}

func (c *Client) handleBinary(data []byte) {
	if !wsproto.IsMultiplexFrame(data) {
		c.logger.Warn("dropping binary frame without PX magic")
		return
	}
	frame, err := wsproto.DecodeMultiplexFrame(data)
	if err != nil {
		c.logger.Warn("failed to decode multiplex frame", zap.Error(err))
		return
	}
	c.hub.handleInboundMultiplex(c, frame)
}

// clientContextKey is the context.Context key a dispatched Handler uses to
// recover the originating Client (e.g. to call Hub.Subscribe/Unsubscribe).
type clientContextKey struct{}

// ClientFromContext returns the Client that issued the request being
// handled, if ctx was produced by Client.handleEnvelope.
func ClientFromContext(ctx context.Context) (*Client, bool) {
	c, ok := ctx.Value(clientContextKey{}).(*Client)
	return c, ok
}

func (c *Client) handleEnvelope(ctx context.Context, env *wsproto.Envelope) {
	switch env.Type {
	case wsproto.TypeHeartbeat:
		c.hub.handleHeartbeat(c, env)
		ack, _ := wsproto.NewResponse(env.RequestID, wsproto.TypeHeartbeat, map[string]interface{}{})
		ack.Type = wsproto.TypeHeartbeatAck
		c.sendEnvelope(ack)
		return
	}

	ctx = context.WithValue(ctx, clientContextKey{}, c)
	resp := c.hub.dispatcher.Dispatch(ctx, env)
	c.sendEnvelope(resp)
}

func (c *Client) sendEnvelope(env *wsproto.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}
	c.sendBytes(data, false)
}

func (c *Client) sendBytes(data []byte, binary bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- wireMessage{data: data, binary: binary}:
		return true
	default:
		c.logger.Warn("client send buffer full")
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// WritePump pumps queued frames from the hub to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("failed to close websocket connection", zap.Error(err))
		}
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("failed to set write deadline", zap.Error(err))
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			frameType := websocket.TextMessage
			if msg.binary {
				frameType = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(frameType, msg.data); err != nil {
				c.logger.Debug("failed to write websocket message", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("failed to set write deadline", zap.Error(err))
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
