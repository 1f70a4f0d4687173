package push

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"coin-trader/internal/infrastructure"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// topicPrefixes are the subject trees a websocket client may subscribe to.
var topicPrefixes = []string{"trader.event.", "market.candle.", "market.tick."}

// Subscriber is the part of a JetStream context the gateway needs.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// PushGateway relays NATS subjects to websocket clients that subscribed to them.
type PushGateway struct {
	logger        *zap.Logger
	js            Subscriber
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]bool
	natsSubs      map[string]*nats.Subscription
	mu            sync.RWMutex
}

func NewPushGateway(js Subscriber, logger *zap.Logger) *PushGateway {
	return &PushGateway{
		logger:        logger,
		js:            js,
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		natsSubs:      make(map[string]*nats.Subscription),
	}
}

func allowedTopic(topic string) bool {
	for _, prefix := range topicPrefixes {
		if strings.HasPrefix(topic, prefix) && len(topic) > len(prefix) {
			return true
		}
	}
	return false
}

func (g *PushGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	g.mu.Lock()
	g.clients[client] = true
	g.mu.Unlock()
	infrastructure.WSConnections.Inc()

	go g.writePump(client)
	g.readPump(client)
}

func (g *PushGateway) readPump(c *Client) {
	defer func() {
		g.mu.Lock()
		delete(g.clients, c)
		for topic := range g.subscriptions {
			g.removeClient(topic, c)
		}
		g.mu.Unlock()
		close(c.send)
		infrastructure.WSConnections.Dec()
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req struct {
			Action string `json:"action"` // "subscribe", "unsubscribe"
			Topic  string `json:"topic"`
		}
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		if !allowedTopic(req.Topic) {
			g.logger.Warn("rejected websocket subscription", zap.String("topic", req.Topic))
			continue
		}

		g.mu.Lock()
		switch req.Action {
		case "subscribe":
			if g.subscriptions[req.Topic] == nil {
				if err := g.subscribeToNATS(req.Topic); err != nil {
					g.logger.Error("failed to subscribe to NATS", zap.String("topic", req.Topic), zap.Error(err))
					g.mu.Unlock()
					continue
				}
				g.subscriptions[req.Topic] = make(map[*Client]bool)
			}
			g.subscriptions[req.Topic][c] = true
			g.logger.Info("client subscribed to topic", zap.String("topic", req.Topic))
		case "unsubscribe":
			g.removeClient(req.Topic, c)
		}
		g.mu.Unlock()
	}
}

// removeClient drops c from topic and releases the NATS subscription once nobody listens. Caller holds g.mu.
func (g *PushGateway) removeClient(topic string, c *Client) {
	clients, ok := g.subscriptions[topic]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) > 0 {
		return
	}
	if sub := g.natsSubs[topic]; sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			g.logger.Warn("failed to unsubscribe from NATS", zap.String("topic", topic), zap.Error(err))
		}
	}
	delete(g.natsSubs, topic)
	delete(g.subscriptions, topic)
	g.logger.Info("unsubscribed from NATS as no clients left", zap.String("topic", topic))
}

func (g *PushGateway) writePump(c *Client) {
	defer c.conn.Close()
	for {
		message, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (g *PushGateway) subscribeToNATS(topic string) error {
	// only new messages; history stays in the stream
	sub, err := g.js.Subscribe(topic, func(msg *nats.Msg) {
		g.mu.RLock()
		for c := range g.subscriptions[topic] {
			select {
			case c.send <- msg.Data:
			default:
				// Do not block, just drop if channel is full
			}
		}
		g.mu.RUnlock()
		msg.Ack()
	}, nats.DeliverNew(), nats.ManualAck())

	if err != nil {
		return err
	}

	g.natsSubs[topic] = sub
	g.logger.Info("subscribed to NATS topic", zap.String("topic", topic))
	return nil
}
