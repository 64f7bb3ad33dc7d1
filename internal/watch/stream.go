// Package watch turns the Kubernetes Secret watch API into a resumable
// sequence of secret events.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	apiwatch "k8s.io/apimachinery/pkg/watch"

	"github.com/foxzi/acme-dns-sidecar/internal/metrics"
)

// DefaultResubscribeDelay is the pause before reopening a watch the API
// server refused to open
const DefaultResubscribeDelay = time.Second

// Event is an added or modified secret
type Event struct {
	Type apiwatch.EventType
	Name string
	// Data holds the secret's fields as served by the API, base64 encoded
	Data map[string]string
}

// Watcher opens a watch on secrets.
// A namespaced dynamic.ResourceInterface satisfies it.
type Watcher interface {
	Watch(ctx context.Context, opts metav1.ListOptions) (apiwatch.Interface, error)
}

// Options narrows the watch. Selectors are passed to the API server verbatim.
type Options struct {
	FieldSelector    string
	LabelSelector    string
	ResubscribeDelay time.Duration
}

type state int

const (
	stateSubscribing state = iota
	stateStreaming
	stateRecovering
)

// Stream yields secret events one at a time and re-establishes the watch
// whenever it breaks. Events lost during a break are not replayed; a fresh
// watch reports every existing secret as ADDED again. Only a failed watch
// open waits ResubscribeDelay; a closed channel or an ERROR event resubscribes
// at once. Not safe for concurrent use.
type Stream struct {
	watcher Watcher
	opts    Options
	logger  *slog.Logger

	state   state
	current apiwatch.Interface
}

// NewStream creates a stream over w
func NewStream(w Watcher, opts Options, logger *slog.Logger) *Stream {
	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = DefaultResubscribeDelay
	}
	return &Stream{
		watcher: w,
		opts:    opts,
		logger:  logger,
		state:   stateSubscribing,
	}
}

func (s *Stream) listOptions() metav1.ListOptions {
	return metav1.ListOptions{
		FieldSelector: s.opts.FieldSelector,
		LabelSelector: s.opts.LabelSelector,
	}
}

// Next blocks until an ADDED or MODIFIED secret event arrives. It only
// returns an error once ctx is done.
func (s *Stream) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			s.Close()
			return Event{}, err
		}

		switch s.state {
		case stateSubscribing:
			w, err := s.subscribe(ctx)
			if err != nil {
				continue
			}
			s.current = w
			s.state = stateStreaming
			s.logger.Debug("secret watch established",
				"field_selector", s.opts.FieldSelector,
				"label_selector", s.opts.LabelSelector,
			)

		case stateStreaming:
			event, ok, err := s.receive(ctx)
			if err != nil {
				continue
			}
			if ok {
				return event, nil
			}

		case stateRecovering:
			s.Close()
			metrics.IncWatchRestarts()
			s.state = stateSubscribing
		}
	}
}

// subscribe opens a watch, retrying at a fixed delay until it succeeds or ctx
// is done
func (s *Stream) subscribe(ctx context.Context) (apiwatch.Interface, error) {
	b := backoff.WithContext(backoff.NewConstantBackOff(s.opts.ResubscribeDelay), ctx)

	return backoff.RetryNotifyWithData(func() (apiwatch.Interface, error) {
		return s.watcher.Watch(ctx, s.listOptions())
	}, b, func(err error, next time.Duration) {
		s.logger.Error("failed to open secret watch", "error", err, "retry_in", next)
	})
}

// receive reads one watch event. ok is false when the event was filtered out
// or the watch broke.
func (s *Stream) receive(ctx context.Context) (event Event, ok bool, err error) {
	select {
	case <-ctx.Done():
		return Event{}, false, ctx.Err()
	case ev, open := <-s.current.ResultChan():
		if !open {
			s.logger.Warn("secret watch closed, resubscribing")
			s.state = stateRecovering
			return Event{}, false, nil
		}

		metrics.IncEvents(string(ev.Type))

		switch ev.Type {
		case apiwatch.Added, apiwatch.Modified:
			event, err := toEvent(ev)
			if err != nil {
				s.logger.Warn("ignoring malformed secret event", "type", ev.Type, "error", err)
				return Event{}, false, nil
			}
			return event, true, nil
		case apiwatch.Error:
			s.logger.Warn("secret watch failed, resubscribing", "error", apierrors.FromObject(ev.Object))
			s.state = stateRecovering
			return Event{}, false, nil
		default:
			return Event{}, false, nil
		}
	}
}

// Close stops the current watch, if any. The next call to Next opens a new one.
func (s *Stream) Close() {
	if s.current != nil {
		s.current.Stop()
		s.current = nil
	}
	s.state = stateSubscribing
}

func toEvent(ev apiwatch.Event) (Event, error) {
	obj, ok := ev.Object.(*unstructured.Unstructured)
	if !ok {
		return Event{}, fmt.Errorf("unexpected object type %T", ev.Object)
	}

	data, _, err := unstructured.NestedStringMap(obj.Object, "data")
	if err != nil {
		return Event{}, fmt.Errorf("secret %s: invalid data: %w", obj.GetName(), err)
	}
	if data == nil {
		data = map[string]string{}
	}

	return Event{
		Type: ev.Type,
		Name: obj.GetName(),
		Data: data,
	}, nil
}
