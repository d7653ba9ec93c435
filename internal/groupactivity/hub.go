package groupactivity

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix = "group_activity:"
	channelSuffix = ":broadcast"
	sendBuffer    = 64
)

// Hub fans frames out to every socket of a session. With redis configured
// every frame goes through pub/sub, so sockets on other instances see it
// too and local sockets receive it exactly once.
type Hub struct {
	redis   *redis.Client
	log     *zap.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

type Client struct {
	SessionID string
	UserID    string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		redis:   redisClient,
		log:     log,
		clients: map[string]map[*Client]struct{}{},
		done:    make(chan struct{}),
	}

	if redisClient == nil {
		close(h.done)
		h.cancel = func() {}
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	pubsub := redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Warn("redis subscribe failed, broadcasting locally", zap.Error(err))
		_ = pubsub.Close()
		h.redis = nil
		close(h.done)
		return h
	}
	go h.subscribeRedis(ctx, pubsub)
	return h
}

func (h *Hub) Register(sessionID, userID string) *Client {
	client := &Client{
		SessionID: sessionID,
		UserID:    userID,
		Send:      make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := sessionClients[client]; !ok {
		return
	}
	delete(sessionClients, client)
	if len(sessionClients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
}

// Broadcast hands payload to every socket of the session.
func (h *Hub) Broadcast(ctx context.Context, sessionID string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(ctx, redisChannel(sessionID), payload).Err()
		if err == nil {
			return
		}
		h.log.Warn("redis publish failed, delivering locally",
			zap.String("session_id", sessionID), zap.Error(err))
	}
	h.deliver(sessionID, payload)
}

// deliver drops the frame for sockets whose buffer is full.
func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
			h.log.Warn("socket buffer full, dropping frame",
				zap.String("session_id", sessionID), zap.String("user_id", client.UserID))
		}
	}
}

// Close stops the redis subscription.
func (h *Hub) Close() {
	h.cancel()
	<-h.done
}

func (h *Hub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			sessionID := sessionIDFromChannel(msg.Channel)
			if sessionID == "" {
				continue
			}
			h.deliver(sessionID, []byte(msg.Payload))
		}
	}
}

func redisChannel(sessionID string) string {
	return channelPrefix + sessionID + channelSuffix
}

func sessionIDFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
