package reminder

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TaskHost runs named one-shot tasks. Scheduling a name that is already
// pending replaces it.
type TaskHost interface {
	Schedule(name string, at time.Time, run func())
	Cancel(name string)
	Pending() []Task
}

// Task is a scheduled task as reported by Pending
type Task struct {
	Name string
	At   time.Time
}

// TimerHost is an in-process TaskHost backed by clock timers
type TimerHost struct {
	clock clockwork.Clock

	mu     sync.Mutex
	tasks  map[string]*timerTask
	closed bool
}

type timerTask struct {
	at    time.Time
	timer clockwork.Timer
}

// NewTimerHost creates a host. A nil clock means the real clock.
func NewTimerHost(clock clockwork.Clock) *TimerHost {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TimerHost{clock: clock, tasks: make(map[string]*timerTask)}
}

// Schedule runs fn at the given time, replacing any pending task with the same name
func (h *TimerHost) Schedule(name string, at time.Time, run func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	if old, ok := h.tasks[name]; ok {
		old.timer.Stop()
	}

	task := &timerTask{at: at}
	task.timer = h.clock.AfterFunc(at.Sub(h.clock.Now()), func() {
		h.mu.Lock()
		if h.tasks[name] == task {
			delete(h.tasks, name)
		}
		h.mu.Unlock()
		run()
	})
	h.tasks[name] = task
}

// Cancel drops the pending task with the given name, if any
func (h *TimerHost) Cancel(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if task, ok := h.tasks[name]; ok {
		task.timer.Stop()
		delete(h.tasks, name)
	}
}

// Pending lists scheduled tasks ordered by fire time
func (h *TimerHost) Pending() []Task {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Task, 0, len(h.tasks))
	for name, task := range h.tasks {
		out = append(out, Task{Name: name, At: task.at})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Close cancels every pending task; later Schedule calls are ignored
func (h *TimerHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, task := range h.tasks {
		task.timer.Stop()
		delete(h.tasks, name)
	}
	h.closed = true
}
