package markers

import (
	"context"
	"sync"

	"github.com/inecat/mapads/internal/app/system"
)

// applyLoop serializes every state transition on one goroutine. Submissions
// after Stop, or before Start, fall back to direct execution under the same
// mutex, so the workflow stays usable without lifecycle management.
type applyLoop struct {
	mu      sync.Mutex
	tasks   chan applyTask
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	// execMu is held while any transition body runs, on either path.
	execMu sync.Mutex
}

type applyTask struct {
	fn   func() error
	done chan error
}

var _ system.Service = (*Service)(nil)

// Name implements system.Service.
func (s *Service) Name() string { return "marker-workflow" }

// Start launches the apply loop.
func (s *Service) Start(ctx context.Context) error {
	l := &s.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.cancel = cancel
	l.tasks = make(chan applyTask, 64)
	l.running = true

	l.wg.Add(1)
	go func(tasks chan applyTask) {
		defer l.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				// Drain submissions accepted before running went false.
				for {
					select {
					case task := <-tasks:
						l.run(task)
					default:
						return
					}
				}
			case task := <-tasks:
				l.run(task)
			}
		}
	}(l.tasks)

	s.log.Info("marker workflow apply loop started")
	return nil
}

// Stop shuts the apply loop down. In-flight submissions finish first.
func (s *Service) Stop(ctx context.Context) error {
	l := &s.loop
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		l.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("marker workflow apply loop stopped")
	return nil
}

func (l *applyLoop) run(task applyTask) {
	l.execMu.Lock()
	err := task.fn()
	l.execMu.Unlock()
	task.done <- err
}

// do executes fn under the single-writer discipline: through the loop when it
// is running, directly under the mutex otherwise.
func (s *Service) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := &s.loop
	l.mu.Lock()
	if l.running {
		task := applyTask{fn: fn, done: make(chan error, 1)}
		select {
		case l.tasks <- task:
			l.mu.Unlock()
			return <-task.done
		default:
			// Queue full; run on the caller's goroutine instead.
		}
	}
	l.mu.Unlock()

	l.execMu.Lock()
	defer l.execMu.Unlock()
	return fn()
}
