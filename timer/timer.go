// Package timer matches responses to outstanding sends. Each task waits for
// a fixed number of responses; anything still missing when the timeout
// elapses is reported to the response functor as a timeout, never silently
// dropped.
package timer

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log"
)

var logger = logging.Logger("routing.timer")

var (
	// ErrResponseTimeout is delivered for each expected response that did
	// not arrive in time.
	ErrResponseTimeout = errors.New("timer: response timed out")

	// ErrCancelled is delivered when an in-flight task is torn down, e.g.
	// on Stop or after delivery failure.
	ErrCancelled = errors.New("timer: task cancelled")
)

// ResponseFunc receives one response payload, or a nil payload with the
// reason no response will come.
type ResponseFunc func(payload []byte, err error)

type task struct {
	fn        ResponseFunc
	remaining int
	timer     *clock.Timer
}

// Timer tracks response tasks keyed by message id.
type Timer struct {
	clk clock.Clock

	mu    sync.Mutex
	tasks map[string]*task
}

// New builds a Timer on clk; a nil clk uses the wall clock.
func New(clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	return &Timer{
		clk:   clk,
		tasks: make(map[string]*task),
	}
}

// AddTask registers fn to receive up to expected responses for id, each
// surviving at most timeout. A nil fn registers nothing.
func (t *Timer) AddTask(id string, timeout time.Duration, expected int, fn ResponseFunc) {
	if fn == nil || expected <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.tasks[id]; exists {
		logger.Warnf("replacing response task %s", id)
	}
	tk := &task{fn: fn, remaining: expected}
	tk.timer = t.clk.AfterFunc(timeout, func() { t.expire(id) })
	t.tasks[id] = tk
}

// AddResponse delivers payload to the task for id, completing the task once
// all expected responses have arrived. It reports whether a task consumed
// the response.
func (t *Timer) AddResponse(id string, payload []byte) bool {
	t.mu.Lock()
	tk, ok := t.tasks[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	tk.remaining--
	if tk.remaining <= 0 {
		tk.timer.Stop()
		delete(t.tasks, id)
	}
	fn := tk.fn
	t.mu.Unlock()

	fn(payload, nil)
	return true
}

// FailTask resolves every outstanding response for id with err, used when
// delivery is known to have failed before any response can arrive.
func (t *Timer) FailTask(id string, err error) {
	t.resolve(id, err)
}

// CancelTask drops the task for id, reporting ErrCancelled for whatever is
// still outstanding. Unknown ids are a no-op.
func (t *Timer) CancelTask(id string) {
	t.resolve(id, ErrCancelled)
}

// CancelAll tears down every task, as on Stop.
func (t *Timer) CancelAll() {
	t.mu.Lock()
	ids := make([]string, 0, len(t.tasks))
	for id := range t.tasks {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.resolve(id, ErrCancelled)
	}
}

// PendingTasks returns the number of tasks still awaiting responses.
func (t *Timer) PendingTasks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

func (t *Timer) expire(id string) {
	t.resolve(id, ErrResponseTimeout)
}

func (t *Timer) resolve(id string, err error) {
	t.mu.Lock()
	tk, ok := t.tasks[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	tk.timer.Stop()
	delete(t.tasks, id)
	remaining := tk.remaining
	fn := tk.fn
	t.mu.Unlock()

	for i := 0; i < remaining; i++ {
		fn(nil, err)
	}
}
