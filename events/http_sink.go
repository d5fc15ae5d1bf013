package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	goevents "github.com/docker/go-events"
	"github.com/sirupsen/logrus"
)

// EventsMediaType is the content type posted to configured notification
// endpoints, adapted from the teacher's storage/notifications endpoint
// sink, generalized to patch-graph events instead of manifest push/pull.
const EventsMediaType = "application/vnd.packagepatch.patchmaker.events.v1+json"

// envelope is the json body posted to an endpoint.
type envelope struct {
	Events []Event `json:"events"`
}

// HTTPEndpoint is a single-flight goevents.Sink posting events to one
// configured URL, adapted from storage/notifications.Endpoint: a thin
// client with a threshold/backoff circuit breaker,
// generalized from the teacher's retry-queue wrapper (notifications/
// bridge.go and sinks.go configure one of these per Notifications.Endpoint
// entry).
type HTTPEndpoint struct {
	name      string
	url       string
	headers   http.Header
	client    *http.Client
	threshold int
	backoff   time.Duration

	mu           sync.Mutex
	failures     int
	backoffUntil time.Time
}

// NewHTTPEndpoint builds an HTTPEndpoint from one configured notification
// endpoint's name, url, headers, timeout, threshold, and backoff.
func NewHTTPEndpoint(name, url string, headers http.Header, timeout time.Duration, threshold int, backoff time.Duration) *HTTPEndpoint {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPEndpoint{
		name:      name,
		url:       url,
		headers:   headers,
		client:    &http.Client{Timeout: timeout},
		threshold: threshold,
		backoff:   backoff,
	}
}

func (e *HTTPEndpoint) String() string {
	return fmt.Sprintf("events.HTTPEndpoint{Name: %q, URL: %q}", e.name, e.url)
}

// Write posts ev to the endpoint. Once threshold consecutive failures have
// accumulated, further writes are skipped until backoff elapses, rather
// than piling up blocked requests against a downed endpoint.
func (e *HTTPEndpoint) Write(ev goevents.Event) error {
	pev, ok := ev.(Event)
	if !ok {
		return fmt.Errorf("events: unexpected event type %T", ev)
	}

	e.mu.Lock()
	if e.threshold > 0 && e.failures >= e.threshold && time.Now().Before(e.backoffUntil) {
		e.mu.Unlock()
		return fmt.Errorf("%v: in backoff until %v", e, e.backoffUntil)
	}
	e.mu.Unlock()

	if err := e.post(pev); err != nil {
		e.recordFailure()
		return err
	}
	e.recordSuccess()
	return nil
}

func (e *HTTPEndpoint) post(ev Event) error {
	body, err := json.Marshal(envelope{Events: []Event{ev}})
	if err != nil {
		return fmt.Errorf("%v: marshaling event: %w", e, err)
	}

	req, err := http.NewRequest(http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%v: building request: %w", e, err)
	}
	req.Header.Set("Content-Type", EventsMediaType)
	for k, vs := range e.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("%v: posting: %w", e, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("%v: response status %v", e, resp.Status)
	}
	return nil
}

func (e *HTTPEndpoint) recordFailure() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	if e.threshold > 0 && e.failures >= e.threshold {
		e.backoffUntil = time.Now().Add(e.backoff)
	}
}

func (e *HTTPEndpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
}

func (e *HTTPEndpoint) Close() error { return nil }

// Broadcaster fans one event out to every configured endpoint sink,
// logging (not failing) when an individual endpoint rejects delivery,
// adapted from notifications/bridge.go's use of a multi-sink broadcaster.
type Broadcaster struct {
	sinks []goevents.Sink
}

// NewBroadcaster wraps one goevents.Sink per sink.
func NewBroadcaster(sinks ...goevents.Sink) *Broadcaster {
	return &Broadcaster{sinks: sinks}
}

func (b *Broadcaster) Write(ev goevents.Event) error {
	for _, sink := range b.sinks {
		if err := sink.Write(ev); err != nil {
			logrus.Warnf("events: broadcaster: %v", err)
		}
	}
	return nil
}

func (b *Broadcaster) Close() error {
	var firstErr error
	for _, sink := range b.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
