package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// OAuthState 一次授权流程的上下文
type OAuthState struct {
	UserID        string    `json:"user_id"`
	IntegrationID string    `json:"integration_id"`
	RedirectURL   string    `json:"redirect_url"`
	ConnectionID  string    `json:"connection_id,omitempty"`
	Label         string    `json:"label,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StateStore 保存 state 参数，Take 之后即失效
type StateStore interface {
	Save(ctx context.Context, key string, state OAuthState, ttl time.Duration) error
	Take(ctx context.Context, key string) (*OAuthState, error)
}

const stateKeyPrefix = "iconsole:oauth_state:"

// RedisStateStore 基于 Redis 的 state 存储，多实例部署时使用
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ StateStore = (*RedisStateStore)(nil)

func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) Save(ctx context.Context, key string, state OAuthState, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, stateKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Take 读取并删除，state 只能使用一次
func (s *RedisStateStore) Take(ctx context.Context, key string) (*OAuthState, error) {
	bytes, err := s.client.GetDel(ctx, stateKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	var state OAuthState
	if err := json.Unmarshal(bytes, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

// MemoryStateStore 单实例部署的内存实现
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryState
	now     func() time.Time
}

type memoryState struct {
	state     OAuthState
	expiresAt time.Time
}

var _ StateStore = (*MemoryStateStore)(nil)

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]memoryState),
		now:     time.Now,
	}
}

func (s *MemoryStateStore) Save(_ context.Context, key string, state OAuthState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	// 顺带清理过期项
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = memoryState{state: state, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(_ context.Context, key string) (*OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	delete(s.entries, key)
	if s.now().After(e.expiresAt) {
		return nil, nil
	}
	state := e.state
	return &state, nil
}
