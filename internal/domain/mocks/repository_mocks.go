package mocks

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/V4T54L/schoolpulse/internal/domain"
)

// MockPool is a mock implementation of domain.Pool for testing.
type MockPool struct {
	Name string

	mu         sync.Mutex
	PingErr    error
	ExecErr    error
	QueryErr   error
	Pings      int
	Closes     int
	Queries    []string
	ExecResult sql.Result
}

func (m *MockPool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, query)
	if m.ExecErr != nil {
		return nil, m.ExecErr
	}
	return m.ExecResult, nil
}

func (m *MockPool) Query(ctx context.Context, fn domain.RowsFunc, query string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Queries = append(m.Queries, query)
	return m.QueryErr
}

func (m *MockPool) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pings++
	return m.PingErr
}

func (m *MockPool) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closes++
	return nil
}

// PingCount returns the number of pings observed so far.
func (m *MockPool) PingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Pings
}

// CloseCount returns the number of closes observed so far.
func (m *MockPool) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closes
}

// MockPoolOpener records every pool it opens, keyed by the name passed to Open.
type MockPoolOpener struct {
	mu      sync.Mutex
	Opened  map[string]*MockPool
	Order   []string
	PingErr map[string]error // preset ping errors, by pool name
	OpenErr error
}

func (m *MockPoolOpener) Open(name string, params domain.ConnParams) (domain.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.Opened == nil {
		m.Opened = make(map[string]*MockPool)
	}
	p := &MockPool{Name: name, PingErr: m.PingErr[name]}
	m.Opened[name] = p
	m.Order = append(m.Order, name)
	return p, nil
}

// MockEventBus is an in-memory domain.EventBus shared by any number of subscribers.
type MockEventBus struct {
	mu         sync.Mutex
	Published  []domain.Envelope
	PublishErr error
	handlers   []func(domain.Envelope)
}

func (m *MockEventBus) Publish(ctx context.Context, env domain.Envelope) error {
	m.mu.Lock()
	if m.PublishErr != nil {
		m.mu.Unlock()
		return m.PublishErr
	}
	m.Published = append(m.Published, env)
	handlers := append([]func(domain.Envelope){}, m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (m *MockEventBus) Subscribe(ctx context.Context, handler func(domain.Envelope)) error {
	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	m.mu.Unlock()
	<-ctx.Done()
	return nil
}

// PublishedCount returns the number of envelopes published so far.
func (m *MockEventBus) PublishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Published)
}

// MockVerifier maps raw tokens to identities.
type MockVerifier struct {
	Identities map[string]domain.Identity
}

var ErrMockInvalidToken = errors.New("invalid token")

func (m *MockVerifier) Verify(token string) (domain.Identity, error) {
	id, ok := m.Identities[token]
	if !ok {
		return domain.Identity{}, ErrMockInvalidToken
	}
	return id, nil
}

// Subscribers returns the number of active Subscribe calls.
func (m *MockEventBus) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}
