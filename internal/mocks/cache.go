package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockCache is an in-memory mock of the Cache interface. Unset func fields
// fall through to the backing maps so simple tests need no setup.
type MockCache struct {
	mu       sync.Mutex
	data     map[string]string
	counters map[string]int64
	sets     map[string]map[string]struct{}

	GetFunc        func(ctx context.Context, key string) (string, error)
	SetFunc        func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DeleteFunc     func(ctx context.Context, key string) error
	IncrFunc       func(ctx context.Context, key string) (int64, error)
	SetAddFunc     func(ctx context.Context, key string, member string) error
	SetRemoveFunc  func(ctx context.Context, key string, member string) error
	SetMembersFunc func(ctx context.Context, key string) ([]string, error)
	PingFunc       func() error
	CloseFunc      func() error
}

func NewMockCache() *MockCache {
	return &MockCache{
		data:     make(map[string]string),
		counters: make(map[string]int64),
		sets:     make(map[string]map[string]struct{}),
	}
}

func (m *MockCache) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *MockCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, expiration)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprintf("%v", value)
	return nil
}

func (m *MockCache) Delete(ctx context.Context, key string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockCache) Incr(ctx context.Context, key string) (int64, error) {
	if m.IncrFunc != nil {
		return m.IncrFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func (m *MockCache) SetAdd(ctx context.Context, key string, member string) error {
	if m.SetAddFunc != nil {
		return m.SetAddFunc(ctx, key, member)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[key] == nil {
		m.sets[key] = make(map[string]struct{})
	}
	m.sets[key][member] = struct{}{}
	return nil
}

func (m *MockCache) SetRemove(ctx context.Context, key string, member string) error {
	if m.SetRemoveFunc != nil {
		return m.SetRemoveFunc(ctx, key, member)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[key], member)
	return nil
}

func (m *MockCache) SetMembers(ctx context.Context, key string) ([]string, error) {
	if m.SetMembersFunc != nil {
		return m.SetMembersFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (m *MockCache) Ping() error {
	if m.PingFunc != nil {
		return m.PingFunc()
	}
	return nil
}

func (m *MockCache) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// MockPubSub is an in-process mock of the PubSub interface. Published
// payloads are delivered synchronously to every subscriber of the channel.
type MockPubSub struct {
	mu   sync.Mutex
	subs map[string][]chan []byte

	PublishFunc        func(ctx context.Context, channel string, payload []byte) error
	SubscribeFunc      func(ctx context.Context, channel string) (<-chan []byte, func(), error)
	NumSubscribersFunc func(ctx context.Context, channel string) (int64, error)
}

func NewMockPubSub() *MockPubSub {
	return &MockPubSub{subs: make(map[string][]chan []byte)}
}

func (m *MockPubSub) Publish(ctx context.Context, channel string, payload []byte) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, channel, payload)
	}
	m.mu.Lock()
	targets := append([]chan []byte(nil), m.subs[channel]...)
	m.mu.Unlock()
	for _, ch := range targets {
		ch <- payload
	}
	return nil
}

func (m *MockPubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	if m.SubscribeFunc != nil {
		return m.SubscribeFunc(ctx, channel)
	}
	ch := make(chan []byte, 16)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		kept := m.subs[channel][:0]
		for _, sub := range m.subs[channel] {
			if sub != ch {
				kept = append(kept, sub)
			}
		}
		m.subs[channel] = kept
		close(ch)
	}
	return ch, cancel, nil
}

func (m *MockPubSub) NumSubscribers(ctx context.Context, channel string) (int64, error) {
	if m.NumSubscribersFunc != nil {
		return m.NumSubscribersFunc(ctx, channel)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.subs[channel])), nil
}

// MockLocker is a mock implementation of Locker
type MockLocker struct {
	mu     sync.Mutex
	owners map[string]string

	AcquireFunc func(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	RenewFunc   func(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseFunc func(ctx context.Context, key, token string) error
}

func NewMockLocker() *MockLocker {
	return &MockLocker{owners: make(map[string]string)}
}

func (m *MockLocker) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if m.AcquireFunc != nil {
		return m.AcquireFunc(ctx, key, token, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.owners[key]; held {
		return false, nil
	}
	m.owners[key] = token
	return true, nil
}

func (m *MockLocker) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if m.RenewFunc != nil {
		return m.RenewFunc(ctx, key, token, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owners[key] == token, nil
}

func (m *MockLocker) Release(ctx context.Context, key, token string) error {
	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx, key, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owners[key] == token {
		delete(m.owners, key)
	}
	return nil
}
