package service

import (
	"sync"
	"time"

	"integration-console/internal/config"
)

// LoginAttempt 登录尝试记录
type LoginAttempt struct {
	FailCount   int
	LastAttempt time.Time
	LockedUntil time.Time
}

// LoginLimiter 登录失败限制，按账号或 IP 计数
type LoginLimiter struct {
	attempts     map[string]*LoginAttempt
	mu           sync.RWMutex
	maxAttempts  int
	lockDuration time.Duration
	resetAfter   time.Duration // 无失败多久后重置计数
	// 成功时只递减计数（IP 维度），否则清除
	decayOnSuccess bool
	now            func() time.Time
}

// NewLoginLimiter 创建登录限制器
func NewLoginLimiter(maxAttempts int, lockDuration, resetAfter time.Duration, decayOnSuccess bool) *LoginLimiter {
	return &LoginLimiter{
		attempts:       make(map[string]*LoginAttempt),
		maxAttempts:    maxAttempts,
		lockDuration:   lockDuration,
		resetAfter:     resetAfter,
		decayOnSuccess: decayOnSuccess,
		now:            time.Now,
	}
}

// NewLoginLimiters 按安全配置创建账号与 IP 两个维度的限制器
func NewLoginLimiters(cfg *config.SecurityConfig) (account, ip *LoginLimiter) {
	accountLock := time.Duration(cfg.LoginLockMinutes) * time.Minute
	ipLock := time.Duration(cfg.IPLockMinutes) * time.Minute
	account = NewLoginLimiter(cfg.MaxLoginAttempts, accountLock, 2*accountLock, false)
	ip = NewLoginLimiter(cfg.IPMaxAttempts, ipLock, 2*ipLock, true)
	return account, ip
}

// IsLocked 是否处于锁定期
func (ll *LoginLimiter) IsLocked(key string) (bool, time.Duration) {
	ll.mu.RLock()
	defer ll.mu.RUnlock()

	attempt, exists := ll.attempts[key]
	if !exists {
		return false, 0
	}
	now := ll.now()
	if now.Before(attempt.LockedUntil) {
		return true, attempt.LockedUntil.Sub(now)
	}
	return false, 0
}

// RecordFailure 记录失败，达到上限时锁定
func (ll *LoginLimiter) RecordFailure(key string) (locked bool, remaining time.Duration) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	now := ll.now()
	attempt, exists := ll.attempts[key]
	if !exists {
		attempt = &LoginAttempt{}
		ll.attempts[key] = attempt
	}

	if now.Sub(attempt.LastAttempt) > ll.resetAfter {
		attempt.FailCount = 0
	}
	attempt.FailCount++
	attempt.LastAttempt = now

	if attempt.FailCount >= ll.maxAttempts {
		attempt.LockedUntil = now.Add(ll.lockDuration)
		return true, ll.lockDuration
	}
	return false, 0
}

// RecordSuccess 登录成功
func (ll *LoginLimiter) RecordSuccess(key string) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if !ll.decayOnSuccess {
		delete(ll.attempts, key)
		return
	}
	if attempt, exists := ll.attempts[key]; exists {
		attempt.FailCount--
		if attempt.FailCount <= 0 {
			delete(ll.attempts, key)
		}
	}
}

// RemainingAttempts 剩余尝试次数
func (ll *LoginLimiter) RemainingAttempts(key string) int {
	ll.mu.RLock()
	defer ll.mu.RUnlock()

	attempt, exists := ll.attempts[key]
	if !exists || ll.now().Sub(attempt.LastAttempt) > ll.resetAfter {
		return ll.maxAttempts
	}
	remaining := ll.maxAttempts - attempt.FailCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Sweep 清理已解锁且超过重置时间的记录，由调度器定期调用
func (ll *LoginLimiter) Sweep() int {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	now := ll.now()
	removed := 0
	for key, attempt := range ll.attempts {
		if now.After(attempt.LockedUntil) && now.Sub(attempt.LastAttempt) > ll.resetAfter {
			delete(ll.attempts, key)
			removed++
		}
	}
	return removed
}
