package refresh

import (
	"bytes"
	"context"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

type State int32

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// Cycler runs one refresh cycle
type Cycler interface {
	RunCycle(ctx context.Context) (CycleResult, error)
}

// Scheduler runs a cycle right away and then once per interval. The next
// cycle is armed only after the previous one returned, so cycles never
// overlap.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	state    *atomic.Int32
	done     chan struct{}
}

func NewScheduler(cycler Cycler, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		cycler:   cycler,
		interval: interval,
		state:    atomic.NewInt32(int32(Idle)),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Done is closed once Run returned
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Run blocks until ctx is cancelled. A cycle in flight at cancellation is
// completed before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	defer s.state.Store(int32(Stopped))

	log.Infof("🚀 Price refresh scheduled every %s", s.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Price refresh stopped")
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			log.Info("Price refresh stopped")
			return
		}

		s.state.Store(int32(Running))
		s.runOnce(context.WithoutCancel(ctx))
		s.state.Store(int32(Idle))

		timer.Reset(s.interval)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			stackBuf := make([]byte, 1024)
			stackSize := runtime.Stack(stackBuf, false)
			stackTrace := bytes.TrimRight(stackBuf[:stackSize], "\x00")
			log.Errorf("🔥 Panic recovered in refresh cycle: %v\nStack trace: %s", r, stackTrace)
		}
	}()

	res, err := s.cycler.RunCycle(ctx)
	if err != nil {
		log.WithField("cycle_id", res.ID).Errorf("❌ Refresh cycle failed, retrying in %s: %v", s.interval, err)
		return
	}
	log.WithField("cycle_id", res.ID).Debugf("✅ Prices refreshed, %d alert(s) fired", len(res.Fired))
}
