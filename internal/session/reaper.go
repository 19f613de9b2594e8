package session

import (
	"sync"
	"time"

	"github.com/feandrad/guildmaster-prototype/pkg/logger"
)

// Default reaper schedule.
const (
	DefaultSweepInterval  = 10 * time.Second
	DefaultSessionTimeout = 30 * time.Second
)

// Reaper periodically evicts sessions that have been idle on both
// transports beyond the timeout. Evicted sessions are reported through
// the onEvict callback so the server can send the same disconnect
// notifications as an explicit disconnect.
type Reaper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	onEvict  func(Snapshot)
	log      *logger.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReaper creates a reaper; Start schedules it.
func NewReaper(registry *Registry, interval, timeout time.Duration, onEvict func(Snapshot), log *logger.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &Reaper{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		onEvict:  onEvict,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Reaper) sweep() {
	evicted := r.registry.Sweep(r.timeout)
	if len(evicted) == 0 {
		return
	}
	r.log.Info("Reaped %d inactive sessions", len(evicted))
	for _, snap := range evicted {
		if r.onEvict != nil {
			r.onEvict(snap)
		}
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}
