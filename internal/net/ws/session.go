package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"storyloom/server/internal/channel"
)

// clientFrame is one request from the socket. The id scopes subscriptions and
// hooks so the client can cancel them later; for one-shot operations it just
// correlates the ack.
type clientFrame struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id,omitempty"`
	Path   string          `json:"path,omitempty"`
	Key    string          `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	SentAt int64           `json:"sentAt,omitempty"`
}

type valueFrame struct {
	Type  string          `json:"type"`
	ID    uint64          `json:"id"`
	Value json.RawMessage `json:"value"`
}

type childFrame struct {
	Type  string          `json:"type"`
	ID    uint64          `json:"id"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type ackFrame struct {
	Type  string          `json:"type"`
	ID    uint64          `json:"id"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	ID    uint64 `json:"id"`
	Error string `json:"error"`
}

type pongFrame struct {
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}

// session serves one socket. Store deliveries arrive on the store's delivery
// goroutines while the read loop handles frames, so every socket write goes
// through writeMu.
type session struct {
	clientID string
	conn     *websocket.Conn
	store    channel.Conn
	logger   *log.Logger
	limiter  *rate.Limiter

	writeMu sync.Mutex

	mu    sync.Mutex
	subs  map[uint64]channel.Subscription
	hooks map[uint64]channel.Hook
}

func newSession(clientID string, conn *websocket.Conn, store channel.Conn, logger *log.Logger, limiter *rate.Limiter) *session {
	return &session{
		clientID: clientID,
		conn:     conn,
		store:    store,
		logger:   logger,
		limiter:  limiter,
		subs:     make(map[uint64]channel.Subscription),
		hooks:    make(map[uint64]channel.Hook),
	}
}

func (s *session) serve() {
	defer s.teardown()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.limiter.Allow() {
			s.logger.Printf("dropping frame from %s: rate limited", s.clientID)
			continue
		}

		var frame clientFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			s.logger.Printf("discarding malformed frame from %s: %v", s.clientID, err)
			continue
		}

		switch frame.Type {
		case "subscribe":
			s.handleSubscribe(frame)
		case "subscribeAppend":
			s.handleSubscribeAppend(frame)
		case "cancel":
			s.handleCancel(frame)
		case "write":
			s.ack(frame, s.store.Write(frame.Path, frame.Value))
		case "append":
			key, err := s.store.Append(frame.Path, frame.Value)
			if err != nil {
				s.sendError(frame.ID, err)
				continue
			}
			s.writeJSON(ackFrame{Type: "ack", ID: frame.ID, Key: key})
		case "remove":
			s.ack(frame, s.store.Remove(frame.Path))
		case "removeChild":
			s.ack(frame, s.store.RemoveChild(frame.Path, frame.Key))
		case "read":
			value, err := s.store.Read(frame.Path)
			if err != nil {
				s.sendError(frame.ID, err)
				continue
			}
			s.writeJSON(ackFrame{Type: "ack", ID: frame.ID, Value: value})
		case "onDisconnect":
			s.handleOnDisconnect(frame)
		case "cancelHook":
			s.handleCancelHook(frame)
		case "ping":
			s.writeJSON(pongFrame{
				Type:       "pong",
				ServerTime: time.Now().UnixMilli(),
				ClientTime: frame.SentAt,
			})
		default:
			s.logger.Printf("unknown frame type %q from %s", frame.Type, s.clientID)
		}
	}
}

func (s *session) handleSubscribe(frame clientFrame) {
	id := frame.ID
	sub := s.store.SubscribeValue(frame.Path, func(value []byte) {
		s.writeJSON(valueFrame{Type: "value", ID: id, Value: value})
	})

	s.mu.Lock()
	if old, ok := s.subs[id]; ok {
		old.Cancel()
	}
	s.subs[id] = sub
	s.mu.Unlock()
}

func (s *session) handleSubscribeAppend(frame clientFrame) {
	id := frame.ID
	sub := s.store.SubscribeAppend(frame.Path, func(key string, value []byte) {
		s.writeJSON(childFrame{Type: "child", ID: id, Key: key, Value: value})
	})

	s.mu.Lock()
	if old, ok := s.subs[id]; ok {
		old.Cancel()
	}
	s.subs[id] = sub
	s.mu.Unlock()
}

func (s *session) handleCancel(frame clientFrame) {
	s.mu.Lock()
	sub, ok := s.subs[frame.ID]
	delete(s.subs, frame.ID)
	s.mu.Unlock()
	if ok {
		sub.Cancel()
	}
}

func (s *session) handleOnDisconnect(frame clientFrame) {
	hook, err := s.store.OnDisconnectRemove(frame.Path)
	if err != nil {
		s.sendError(frame.ID, err)
		return
	}

	s.mu.Lock()
	if old, ok := s.hooks[frame.ID]; ok {
		old.Cancel()
	}
	s.hooks[frame.ID] = hook
	s.mu.Unlock()

	s.writeJSON(ackFrame{Type: "ack", ID: frame.ID})
}

func (s *session) handleCancelHook(frame clientFrame) {
	s.mu.Lock()
	hook, ok := s.hooks[frame.ID]
	delete(s.hooks, frame.ID)
	s.mu.Unlock()
	if ok {
		hook.Cancel()
	}
	s.writeJSON(ackFrame{Type: "ack", ID: frame.ID})
}

func (s *session) ack(frame clientFrame, err error) {
	if err != nil {
		s.sendError(frame.ID, err)
		return
	}
	s.writeJSON(ackFrame{Type: "ack", ID: frame.ID})
}

func (s *session) sendError(id uint64, err error) {
	s.writeJSON(errorFrame{Type: "error", ID: id, Error: err.Error()})
}

func (s *session) writeJSON(payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("failed to marshal frame for %s: %v", s.clientID, err)
		return
	}
	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.TextMessage, data)
	s.writeMu.Unlock()
	if err != nil {
		// The read loop sees the broken socket and tears the session down.
		s.logger.Printf("write to %s failed: %v", s.clientID, err)
	}
}

// teardown cancels subscriptions before closing the store connection, which
// fires any disconnect hooks the client never canceled.
func (s *session) teardown() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[uint64]channel.Subscription{}
	s.hooks = map[uint64]channel.Hook{}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
	s.store.Close()
	s.conn.Close()
}
