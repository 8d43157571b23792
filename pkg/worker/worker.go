package worker

import (
	"bytes"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrHalted is returned by Post after the worker has been halted.
var ErrHalted = errors.New("worker halted")

// Task is a unit of work executed on the worker goroutine.
type Task func()

// Worker executes posted tasks sequentially on a single goroutine.
type Worker struct {
	mu     sync.Mutex
	queue  []Task
	timers map[*Timer]struct{}
	halted bool

	wake   chan struct{}
	haltCh chan struct{}
	done   chan struct{}

	haltOnce sync.Once
	loopGID  atomic.Uint64
}

// New creates a Worker and starts its loop goroutine.
func New() *Worker {
	w := &Worker{
		timers: make(map[*Timer]struct{}),
		wake:   make(chan struct{}, 1),
		haltCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// Post enqueues fn for execution on the worker goroutine.
// Returns ErrHalted if the worker has been halted.
func (w *Worker) Post(fn Task) error {
	w.mu.Lock()
	if w.halted {
		w.mu.Unlock()
		return ErrHalted
	}
	w.queue = append(w.queue, fn)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// PostDelayed schedules fn to run on the worker goroutine after delay.
// The returned Timer can cancel the task before it fires. A halted worker
// returns a nil Timer and ErrHalted.
func (w *Worker) PostDelayed(fn Task, delay time.Duration) (*Timer, error) {
	w.mu.Lock()
	if w.halted {
		w.mu.Unlock()
		return nil, ErrHalted
	}

	t := &Timer{worker: w}
	t.timer = time.AfterFunc(delay, func() {
		w.removeTimer(t)
		// Post fails only when the worker halted between the timer firing
		// and the hand-off, in which case the task must not run.
		_ = w.Post(fn)
	})
	w.timers[t] = struct{}{}
	w.mu.Unlock()

	return t, nil
}

// InLoop reports whether the caller is executing on the worker goroutine.
func (w *Worker) InLoop() bool {
	return w.loopGID.Load() == gid()
}

// Halt stops the worker: pending delayed tasks are cancelled, queued tasks
// are discarded, and Halt blocks until the loop goroutine has exited.
// Halt is idempotent. Calling it from the loop goroutine is not allowed.
func (w *Worker) Halt() {
	w.haltOnce.Do(func() {
		w.mu.Lock()
		w.halted = true
		for t := range w.timers {
			t.timer.Stop()
		}
		w.timers = nil
		w.queue = nil
		w.mu.Unlock()

		close(w.haltCh)
	})
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	w.loopGID.Store(gid())

	for {
		fn := w.pop()
		if fn != nil {
			fn()
			continue
		}

		select {
		case <-w.wake:
		case <-w.haltCh:
			return
		}
	}
}

func (w *Worker) pop() Task {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.halted || len(w.queue) == 0 {
		return nil
	}
	fn := w.queue[0]
	w.queue = w.queue[1:]
	return fn
}

func (w *Worker) removeTimer(t *Timer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.timers, t)
}

// Timer is a handle to a delayed task.
type Timer struct {
	worker *Worker
	timer  *time.Timer
}

// Cancel stops the delayed task if it has not yet been handed to the loop.
// It is safe to call Cancel multiple times.
func (t *Timer) Cancel() {
	t.timer.Stop()
	t.worker.removeTimer(t)
}

// gid returns the current goroutine's ID by parsing the stack header
// ("goroutine N [running]:"). There is no runtime API for this; the header
// format is stable across Go releases.
func gid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
