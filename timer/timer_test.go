package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	payloads [][]byte
	errs     []error
}

func (r *recorder) fn(payload []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, failed := 0, 0
	for _, err := range r.errs {
		if err == nil {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}

func TestSingleResponseCompletesTask(t *testing.T) {
	mock := clock.NewMock()
	tm := New(mock)
	rec := &recorder{}

	tm.AddTask("task", time.Second, 1, rec.fn)
	require.Equal(t, 1, tm.PendingTasks())

	require.True(t, tm.AddResponse("task", []byte("pong")))
	require.Equal(t, 0, tm.PendingTasks())

	ok, failed := rec.counts()
	require.Equal(t, 1, ok)
	require.Equal(t, 0, failed)

	// a late duplicate finds no task
	require.False(t, tm.AddResponse("task", []byte("pong")))
}

func TestTimeoutReportsEachMissingResponse(t *testing.T) {
	mock := clock.NewMock()
	tm := New(mock)
	rec := &recorder{}

	tm.AddTask("group", time.Second, 4, rec.fn)
	require.True(t, tm.AddResponse("group", []byte("one")))

	mock.Add(2 * time.Second)

	ok, failed := rec.counts()
	require.Equal(t, 1, ok)
	require.Equal(t, 3, failed)
	require.Equal(t, 0, tm.PendingTasks())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, err := range rec.errs[1:] {
		require.ErrorIs(t, err, ErrResponseTimeout)
	}
}

func TestFailTask(t *testing.T) {
	mock := clock.NewMock()
	tm := New(mock)
	rec := &recorder{}

	tm.AddTask("send", time.Second, 1, rec.fn)
	tm.FailTask("send", ErrCancelled)

	ok, failed := rec.counts()
	require.Equal(t, 0, ok)
	require.Equal(t, 1, failed)

	// idempotent on unknown id
	tm.FailTask("send", ErrCancelled)
	ok, failed = rec.counts()
	require.Equal(t, 1, failed)
	require.Equal(t, 0, ok)
}

func TestCancelAll(t *testing.T) {
	mock := clock.NewMock()
	tm := New(mock)
	rec := &recorder{}

	tm.AddTask("a", time.Second, 1, rec.fn)
	tm.AddTask("b", time.Second, 2, rec.fn)
	tm.CancelAll()

	require.Equal(t, 0, tm.PendingTasks())
	ok, failed := rec.counts()
	require.Equal(t, 0, ok)
	require.Equal(t, 3, failed)
}

func TestNilFunctorIgnored(t *testing.T) {
	tm := New(clock.NewMock())
	tm.AddTask("x", time.Second, 1, nil)
	require.Equal(t, 0, tm.PendingTasks())
}
