// Package connectivity tracks whether the cloud backend is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the network state seen by the device.
type State string

const (
	Online  State = "online"
	Offline State = "offline"
)

// Pinger checks that the backend answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor holds the current state and fans transitions out to
// subscribers. A slow subscriber only ever sees the latest state.
type Monitor struct {
	mu    sync.Mutex
	state State
	subs  []chan State
}

// NewMonitor returns a monitor starting in the offline state.
func NewMonitor() *Monitor {
	return &Monitor{state: Offline}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe returns a channel receiving every later transition.
func (m *Monitor) Subscribe() <-chan State {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan State, 1)
	m.subs = append(m.subs, ch)
	return ch
}

// Set records a platform connectivity signal. Repeating the current state
// is a no-op.
func (m *Monitor) Set(online bool) {
	next := Offline
	if online {
		next = Online
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == next {
		return
	}
	m.state = next

	for _, ch := range m.subs {
		// Replace an unread state with the newer one
		select {
		case <-ch:
		default:
		}
		ch <- next
	}

	slog.Info("connectivity changed",
		"component", "connectivity",
		"state", string(next),
	)
}

// Probe pings p immediately and then every interval, feeding the result
// into Set. It returns when ctx is cancelled.
func (m *Monitor) Probe(ctx context.Context, p Pinger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.probe(ctx, p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx, p)
		}
	}
}

func (m *Monitor) probe(ctx context.Context, p Pinger) {
	err := p.Ping(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		slog.Debug("backend ping failed",
			"component", "connectivity",
			"error", err,
		)
	}
	m.Set(err == nil)
}
