package indexer

import (
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/openaleph/openaleph-search/internal/logger"
)

// chunkState tracks one in-flight chunk for the stall monitor.
type chunkState struct {
	Started time.Time
	Actions int
}

// Monitor watches in-flight chunks and dumps goroutine stacks on SIGUSR1.
// Optional; attach one when diagnosing a hanging ingest.
type Monitor struct {
	// StallAfter flags chunks alive longer than this.
	StallAfter time.Duration
	// Interval between stall checks.
	Interval time.Duration

	mu       sync.Mutex
	inflight map[int]*chunkState
	nextID   int
	stopCh   chan struct{}
	stopOnce sync.Once
	log      logger.Logger
}

// NewMonitor creates a monitor with default thresholds.
func NewMonitor() *Monitor {
	return &Monitor{
		StallAfter: 5 * time.Minute,
		Interval:   30 * time.Second,
		inflight:   map[int]*chunkState{},
		stopCh:     make(chan struct{}),
		log:        logger.New("indexer.monitor"),
	}
}

// Start installs the SIGUSR1 handler and begins periodic stall checks.
func (m *Monitor) Start() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1)
	go func() {
		for {
			select {
			case <-signals:
				m.dump()
			case <-m.stopCh:
				signal.Stop(signals)
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkStalls()
			case <-m.stopCh:
				return
			}
		}
	}()
	m.log.Info("Debug monitor started, send SIGUSR1 for a stack dump",
		logger.Int("pid", os.Getpid()))
}

// Stop ends monitoring.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Track registers an in-flight chunk; the returned func marks completion.
func (m *Monitor) Track(actions int) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.inflight[id] = &chunkState{Started: time.Now(), Actions: actions}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.inflight, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) checkStalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, state := range m.inflight {
		if age := now.Sub(state.Started); age > m.StallAfter {
			m.log.Warn("Chunk appears stalled",
				logger.Int("chunk", id),
				logger.Int("actions", state.Actions),
				logger.Duration("age", age))
		}
	}
}

// dump logs every in-flight chunk and all goroutine stacks.
func (m *Monitor) dump() {
	m.mu.Lock()
	states := make(map[int]chunkState, len(m.inflight))
	for id, state := range m.inflight {
		states[id] = *state
	}
	m.mu.Unlock()

	m.log.Info("Stack dump requested", logger.Int("inflight_chunks", len(states)))
	for id, state := range states {
		m.log.Info("In-flight chunk",
			logger.Int("chunk", id),
			logger.Int("actions", state.Actions),
			logger.Duration("age", time.Since(state.Started)))
	}
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	m.log.Info("Goroutine stacks", logger.String("stacks", string(buf[:n])))
}
