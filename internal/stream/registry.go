package stream

import (
	"fmt"
	"sort"
	"sync"
)

// ConnectionKey identifies one upstream socket. At most one live connection
// exists per key at any time.
type ConnectionKey struct {
	Exchange string
	Symbol   string
	Interval string
}

func (k ConnectionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Exchange, k.Symbol, k.Interval)
}

// Conn is a supervised upstream connection the registry pools.
type Conn interface {
	Start()
	Stop()
}

// ConnectionRegistry is a keyed pool of upstream connections, deduplicated
// by exchange+symbol+base interval.
type ConnectionRegistry struct {
	mu    sync.Mutex
	conns map[ConnectionKey]Conn
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns: make(map[ConnectionKey]Conn),
	}
}

// Acquire returns the existing connection for key, or creates and starts
// one via factory. A second acquire for a live key never opens a duplicate
// socket.
func (r *ConnectionRegistry) Acquire(key ConnectionKey, factory func() (Conn, error)) (Conn, error) {
	r.mu.Lock()
	if conn, ok := r.conns[key]; ok {
		r.mu.Unlock()
		return conn, nil
	}

	conn, err := factory()
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.conns[key] = conn
	r.mu.Unlock()

	conn.Start()
	return conn, nil
}

// Release stops and removes the connection for key. No-op if absent.
func (r *ConnectionRegistry) Release(key ConnectionKey) {
	r.mu.Lock()
	conn, ok := r.conns[key]
	if ok {
		delete(r.conns, key)
	}
	r.mu.Unlock()

	if ok {
		conn.Stop()
	}
}

// Drop removes the entry for key without stopping the connection. Used by
// a connection that has already stopped itself.
func (r *ConnectionRegistry) Drop(key ConnectionKey) {
	r.mu.Lock()
	delete(r.conns, key)
	r.mu.Unlock()
}

// Keys returns the active connection keys in sorted order.
func (r *ConnectionRegistry) Keys() []ConnectionKey {
	r.mu.Lock()
	keys := make([]ConnectionKey, 0, len(r.conns))
	for key := range r.conns {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// Len returns the number of pooled connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
