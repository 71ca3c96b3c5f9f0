package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// PoolStats is a point in time view of the connection pool.
type PoolStats struct {
	MaxPoolSize  int           `json:"maxPoolSize"`
	MinPoolSize  int           `json:"minPoolSize"`
	Open         int           `json:"open"`
	InUse        int           `json:"inUse"`
	Idle         int           `json:"idle"`
	Borrowed     int64         `json:"borrowed"`
	WaitCount    int64         `json:"waitCount"`
	WaitDuration time.Duration `json:"waitDuration"`
}

// Status is the snapshot returned by Manager.Status.
type Status struct {
	State       State     `json:"-"`
	IsConnected bool      `json:"isConnected"`
	RetryCount  int       `json:"retryCount"`
	Pool        PoolStats `json:"poolStats"`
}

// Status reports the current state and pool statistics. It never blocks on
// the network and has no side effects.
func (m *Manager) Status() Status {
	m.mu.RLock()
	state, retries, db, cfg := m.state, m.retryCount, m.db, m.pool
	m.mu.RUnlock()

	s := Status{
		State:       state,
		IsConnected: state == Connected,
		RetryCount:  retries,
		Pool: PoolStats{
			MaxPoolSize: cfg.MaxPoolSize,
			MinPoolSize: cfg.MinPoolSize,
			Borrowed:    m.borrowed.Load(),
		},
	}
	if db != nil {
		st := db.Stats()
		s.Pool.Open = st.OpenConnections
		s.Pool.InUse = st.InUse
		s.Pool.Idle = st.Idle
		s.Pool.WaitCount = st.WaitCount
		s.Pool.WaitDuration = st.WaitDuration
	}
	return s
}

// monitor pings the store every MonitorInterval. A failed ping while
// connected emits error and disconnected; the next successful ping emits
// reconnected.
func (m *Manager) monitor(stop <-chan struct{}, db *bun.DB, cfg PoolConfig) {
	defer m.workers.Done()

	ticker := time.NewTicker(m.opts.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.checkHealth(stop, db, cfg)
		}
	}
}

func (m *Manager) checkHealth(stop <-chan struct{}, db *bun.DB, cfg PoolConfig) {
	ctx, cancel := withTimeout(context.Background(), cfg.ServerSelectionTimeout)
	defer cancel()
	err := m.ping(ctx, db)

	m.mu.Lock()
	select {
	case <-stop:
		// Disconnect won the race; its events are authoritative.
		m.mu.Unlock()
		return
	default:
	}

	switch {
	case err != nil && !m.lost:
		m.lost = true
		m.state = Disconnected
		m.mu.Unlock()

		m.log.Error().Err(err).Msg("store connection error")
		m.emit(EventError, err)
		m.log.Warn().Msg("store disconnected")
		m.emit(EventDisconnected, nil)

	case err == nil && m.lost:
		m.lost = false
		m.state = Connected
		m.mu.Unlock()

		m.log.Info().Msg("store reconnected")
		m.emit(EventReconnected, nil)

	default:
		m.mu.Unlock()
	}
}

// sampleStats logs and exports pool statistics every StatsInterval.
func (m *Manager) sampleStats(stop <-chan struct{}) {
	defer m.workers.Done()

	ticker := time.NewTicker(m.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := m.sampleOnce(); err != nil {
				m.log.Warn().Err(err).Msg("pool stats sampling failed")
			}
		}
	}
}

func (m *Manager) sampleOnce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while sampling pool stats: %v", r)
		}
	}()

	st := m.Status().Pool
	m.log.Debug().
		Int("open", st.Open).
		Int("in_use", st.InUse).
		Int("idle", st.Idle).
		Int64("borrowed", st.Borrowed).
		Int64("wait_count", st.WaitCount).
		Msg("store connection pool stats")

	if m.metrics != nil {
		m.metrics.PoolStat("open", float64(st.Open))
		m.metrics.PoolStat("in_use", float64(st.InUse))
		m.metrics.PoolStat("idle", float64(st.Idle))
		m.metrics.PoolStat("borrowed", float64(st.Borrowed))
		m.metrics.PoolStat("max", float64(st.MaxPoolSize))
	}
	return nil
}
