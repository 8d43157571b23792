package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// Keepalive constants.
const (
	// DefaultKeepAliveInterval is the default interval between pings.
	DefaultKeepAliveInterval = 10 * time.Second

	// missedPingLimit is the number of intervals without any pong before
	// the connection is considered dead.
	missedPingLimit = 3
)

// KeepAliveConfig configures session keepalive.
type KeepAliveConfig struct {
	// Interval is the time between pings. Zero uses the default;
	// a negative value disables keepalive.
	Interval time.Duration
}

// keepAlive sends periodic pings and closes the session when the peer stops
// answering. It runs on its own goroutine, owned by the session.
type keepAlive struct {
	interval time.Duration
	sendPing func(seq uint64) error
	onDead   func()

	seq      atomic.Uint64
	lastPong atomic.Int64

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newKeepAlive(interval time.Duration, sendPing func(seq uint64) error, onDead func()) *keepAlive {
	ka := &keepAlive{
		interval: interval,
		sendPing: sendPing,
		onDead:   onDead,
		stopCh:   make(chan struct{}),
	}
	ka.lastPong.Store(time.Now().UnixNano())
	return ka
}

func (ka *keepAlive) run() {
	ticker := time.NewTicker(ka.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ka.stopCh:
			return
		case <-ticker.C:
			last := time.Unix(0, ka.lastPong.Load())
			if time.Since(last) > time.Duration(missedPingLimit)*ka.interval {
				ka.onDead()
				return
			}
			if err := ka.sendPing(ka.seq.Add(1)); err != nil {
				// The read loop will surface the close reason.
				return
			}
		}
	}
}

// handlePong records that the peer is alive.
func (ka *keepAlive) handlePong() {
	ka.lastPong.Store(time.Now().UnixNano())
}

// stop terminates the keepalive loop. Safe to call multiple times.
func (ka *keepAlive) stop() {
	ka.stopOnce.Do(func() { close(ka.stopCh) })
}
