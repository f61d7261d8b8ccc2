package crud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionCookie holds the id flash messages are stored under
const SessionCookie = "crud_session"

// Flash is a one-time message shown on the next rendered page
type Flash struct {
	Message string      `json:"message"`
	Element string      `json:"element"`
	Params  FlashParams `json:"params"`
	Key     string      `json:"key"`
}

type FlashParams struct {
	Class    string `json:"class"`
	Original string `json:"original"`
}

// newFlash builds the message for a finished action
func newFlash(message string, success bool) *Flash {
	class := "message error"
	if success {
		class = "message success"
	}
	return &Flash{
		Message: message,
		Element: "default",
		Params:  FlashParams{Class: class, Original: message},
		Key:     "flash",
	}
}

// FlashStore keeps pending flash messages per session
type FlashStore interface {
	Add(ctx context.Context, session string, f Flash) error
	// Consume returns and removes all pending messages of a session
	Consume(ctx context.Context, session string) ([]Flash, error)
}

// MemoryFlashStore keeps messages in process memory
type MemoryFlashStore struct {
	messages map[string][]Flash
	mu       sync.Mutex
}

func NewMemoryFlashStore() *MemoryFlashStore {
	return &MemoryFlashStore{messages: make(map[string][]Flash)}
}

func (s *MemoryFlashStore) Add(_ context.Context, session string, f Flash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[session] = append(s.messages[session], f)
	return nil
}

func (s *MemoryFlashStore) Consume(_ context.Context, session string) ([]Flash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.messages[session]
	delete(s.messages, session)
	return out, nil
}

// Pending returns the messages of a session without consuming them
func (s *MemoryFlashStore) Pending(session string) []Flash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Flash(nil), s.messages[session]...)
}

// RedisFlashStore keeps each session's messages in a Redis list
type RedisFlashStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisFlashStore stores lists under prefix+session, expiring after ttl
func NewRedisFlashStore(client *redis.Client, prefix string, ttl time.Duration) *RedisFlashStore {
	if prefix == "" {
		prefix = "crud:flash:"
	}
	return &RedisFlashStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisFlashStore) key(session string) string {
	return s.prefix + session
}

func (s *RedisFlashStore) Add(ctx context.Context, session string, f Flash) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode flash: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(session), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(session), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store flash: %w", err)
	}
	return nil
}

func (s *RedisFlashStore) Consume(ctx context.Context, session string) ([]Flash, error) {
	pipe := s.client.TxPipeline()
	list := pipe.LRange(ctx, s.key(session), 0, -1)
	pipe.Del(ctx, s.key(session))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read flash: %w", err)
	}

	var out []Flash
	for _, raw := range list.Val() {
		var f Flash
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, fmt.Errorf("failed to decode flash: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// sessionID reads the session cookie, issuing a new one when it is missing or malformed
func sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
