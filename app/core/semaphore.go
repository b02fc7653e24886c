package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quka-ai/ragstream/pkg/types/protocol"
)

const (
	DEFAULT_CHAT_MAX_CONCURRENCY = 100
	DEFAULT_SEMAPHORE_TIMEOUT    = 5 * time.Minute
)

type Semaphore interface {
	TryAcquire(ctx context.Context) bool
	Release(ctx context.Context)
	GetCurrent(ctx context.Context) int
}

// DistributedSemaphore 分布式信号量，基于 Redis 实现
type DistributedSemaphore struct {
	redis      redis.UniversalClient
	key        string
	maxPermits int
	timeout    time.Duration
}

func NewDistributedSemaphore(redis redis.UniversalClient, key string, maxPermits int, timeout time.Duration) *DistributedSemaphore {
	return &DistributedSemaphore{
		redis:      redis,
		key:        key,
		maxPermits: maxPermits,
		timeout:    timeout,
	}
}

var acquireScript = redis.NewScript(`
	local key = KEYS[1]
	local max_permits = tonumber(ARGV[1])
	local timeout = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key) or '0')

	if current < max_permits then
		redis.call('INCR', key)
		redis.call('EXPIRE', key, timeout)
		return 1
	else
		return 0
	end
`)

// never decrements below zero
var releaseScript = redis.NewScript(`
	local key = KEYS[1]
	local current = tonumber(redis.call('GET', key) or '0')

	if current > 0 then
		redis.call('DECR', key)
		return 1
	else
		return 0
	end
`)

// TryAcquire 尝试获取信号量许可. Redis errors deny the permit.
func (s *DistributedSemaphore) TryAcquire(ctx context.Context) bool {
	result, err := acquireScript.Run(ctx, s.redis, []string{s.key}, s.maxPermits, int(s.timeout.Seconds())).Int()
	if err != nil {
		slog.Error("Failed to acquire semaphore", slog.String("key", s.key), slog.String("error", err.Error()))
		return false
	}

	return result == 1
}

// Release 释放信号量许可
func (s *DistributedSemaphore) Release(ctx context.Context) {
	if err := releaseScript.Run(ctx, s.redis, []string{s.key}).Err(); err != nil {
		slog.Error("Failed to release semaphore", slog.String("key", s.key), slog.String("error", err.Error()))
	}
}

// GetCurrent 获取当前已使用的许可数
func (s *DistributedSemaphore) GetCurrent(ctx context.Context) int {
	result, err := s.redis.Get(ctx, s.key).Int()
	if err != nil {
		return 0
	}
	return result
}

// LocalSemaphore caps concurrency inside one process when redis is not
// configured.
type LocalSemaphore struct {
	permits chan struct{}
}

func NewLocalSemaphore(maxPermits int) *LocalSemaphore {
	return &LocalSemaphore{
		permits: make(chan struct{}, maxPermits),
	}
}

func (s *LocalSemaphore) TryAcquire(_ context.Context) bool {
	select {
	case s.permits <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *LocalSemaphore) Release(_ context.Context) {
	select {
	case <-s.permits:
	default:
	}
}

func (s *LocalSemaphore) GetCurrent(_ context.Context) int {
	return len(s.permits)
}

// SemaphoreManager 信号量管理器，统一管理所有信号量
type SemaphoreManager struct {
	core           *Core
	chatStream     Semaphore
	chatStreamOnce sync.Once
}

func NewSemaphoreManager(core *Core) *SemaphoreManager {
	return &SemaphoreManager{
		core: core,
	}
}

// ChatStream caps the number of chat streams served at the same time (懒加载).
func (m *SemaphoreManager) ChatStream() Semaphore {
	m.chatStreamOnce.Do(func() {
		cfg := m.core.cfg.Semaphore
		if m.core.Redis() == nil {
			m.chatStream = NewLocalSemaphore(cfg.ChatMaxConcurrency)
			return
		}

		m.chatStream = NewDistributedSemaphore(
			m.core.Redis(),
			protocol.GenChatSemaphoreKey(),
			cfg.ChatMaxConcurrency,
			cfg.Timeout.Duration,
		)
	})
	return m.chatStream
}
