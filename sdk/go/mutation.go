package console

import (
	"errors"
	"sync"
)

// MutationState 乐观更新的状态
type MutationState string

const (
	MutationIdle       MutationState = "idle"
	MutationPending    MutationState = "pending"
	MutationConfirmed  MutationState = "confirmed"
	MutationRolledBack MutationState = "rolled_back"
)

// ErrMutationPending 上一次修改尚未完成，防止重复提交
var ErrMutationPending = errors.New("上一次操作尚未完成")

// Mutation 单个实体的乐观更新：idle → pending → confirmed | rolled_back
//
// pending 期间 Value 返回乐观值；确认后以服务端返回为准；回滚后恢复到提交前的值。
// 结束态可以再次 Begin。
type Mutation[T any] struct {
	mu         sync.Mutex
	state      MutationState
	committed  T
	optimistic T
	err        error
}

// NewMutation 以服务端当前值初始化
func NewMutation[T any](initial T) *Mutation[T] {
	return &Mutation[T]{state: MutationIdle, committed: initial}
}

// Begin 进入 pending，已在 pending 时返回 ErrMutationPending
func (m *Mutation[T]) Begin(optimistic T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == MutationPending {
		return ErrMutationPending
	}
	m.state = MutationPending
	m.optimistic = optimistic
	m.err = nil
	return nil
}

// Confirm 服务端确认，value 成为新的已提交值
func (m *Mutation[T]) Confirm(value T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MutationPending {
		return
	}
	m.committed = value
	m.state = MutationConfirmed
}

// Rollback 请求失败，丢弃乐观值
func (m *Mutation[T]) Rollback(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != MutationPending {
		return
	}
	m.state = MutationRolledBack
	m.err = err
}

// Value 当前应展示的值
func (m *Mutation[T]) Value() T {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == MutationPending {
		return m.optimistic
	}
	return m.committed
}

// Committed 最近一次确认的值
func (m *Mutation[T]) Committed() T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

func (m *Mutation[T]) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err 回滚原因
func (m *Mutation[T]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// run 完整执行一次乐观更新
func (m *Mutation[T]) run(optimistic T, call func() (T, error)) (T, error) {
	if err := m.Begin(optimistic); err != nil {
		var zero T
		return zero, err
	}
	value, err := call()
	if err != nil {
		m.Rollback(err)
		return m.Committed(), err
	}
	m.Confirm(value)
	return value, nil
}
