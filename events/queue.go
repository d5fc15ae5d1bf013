package events

import (
	"container/list"
	"fmt"
	"sync"

	goevents "github.com/docker/go-events"
	"github.com/sirupsen/logrus"
)

// Queue accepts events for asynchronous delivery to a github.com/docker/
// go-events sink, the same unbounded producer/consumer shape the teacher's
// notifications.eventQueue uses for registry activity: Write never
// blocks on the sink, a single goroutine drains the queue and logs (not
// drops silently) any delivery failure.
type Queue struct {
	sink   goevents.Sink
	events *list.List
	cond   *sync.Cond
	mu     sync.Mutex
	closed bool
}

// NewQueue starts a queue draining into sink.
func NewQueue(sink goevents.Sink) *Queue {
	q := &Queue{
		sink:   sink,
		events: list.New(),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Write enqueues ev for asynchronous delivery. It only fails once the
// queue has been closed.
func (q *Queue) Write(ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrSinkClosed
	}
	q.events.PushBack(ev)
	q.cond.Signal()
	return nil
}

// Close shuts the queue down, flushing any pending events first.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("events: queue already closed")
	}
	q.closed = true
	q.cond.Signal()
	q.cond.Wait()
	q.mu.Unlock()

	return q.sink.Close()
}

func (q *Queue) run() {
	for {
		ev, ok := q.next()
		if !ok {
			return
		}
		if err := q.sink.Write(ev); err != nil {
			logrus.Warnf("events: error writing event to sink, event lost: %v", err)
		}
	}
}

func (q *Queue) next() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.events.Len() < 1 {
		if q.closed {
			q.cond.Broadcast()
			return Event{}, false
		}
		q.cond.Wait()
	}

	front := q.events.Front()
	ev := front.Value.(Event)
	q.events.Remove(front)
	return ev, true
}

// LogSink is a goevents.Sink that logs every event at info level, the
// simplest usable sink and the default when no other is configured.
type LogSink struct{}

func (LogSink) Write(ev goevents.Event) error {
	e, ok := ev.(Event)
	if !ok {
		return fmt.Errorf("events: unexpected event type %T", ev)
	}
	logrus.WithField("coord", e.Coord.String()).WithField("action", e.Action).Info(e.Detail)
	return nil
}

func (LogSink) Close() error { return nil }
