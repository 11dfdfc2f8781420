package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/opdss/pubsub/contracts/event"
)

// ErrHandler wraps failures reported by subscribers during Publish.
var ErrHandler = errs.Class("event handler")

type Config struct {
	Name        string `help:"调度器名称,用于日志区分" default:"default"`
	ReportStack bool   `help:"订阅者panic时是否记录调用栈" releaseDefault:"false" default:"true"`
}

var _ event.EventBus = (*Dispatcher)(nil)

// Dispatcher 进程内同步事件分发器
//
// Publish runs every subscriber on the caller's goroutine and returns once all
// of them have finished. The lock only guards the registry, never a
// subscriber call, so subscribers may subscribe, unsubscribe or publish
// re-entrantly.
type Dispatcher struct {
	mu       sync.Mutex
	registry map[event.Topic][]event.Subscriber

	logger *zap.Logger
	config Config
	opts   *options
}

func New(logger *zap.Logger, conf Config, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: make(map[event.Topic][]event.Subscriber),
		logger:   logger.Named("eventbus").With(zap.String("bus", conf.Name)),
		config:   conf,
		opts:     newOptions(opts...),
	}
}

// Subscribe appends sub to topic. The same subscriber may be added several
// times and is then invoked once per registration.
func (d *Dispatcher) Subscribe(topic event.Topic, sub event.Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry[topic] = append(d.registry[topic], sub)
}

// UnSubscribe removes every registration of sub under topic. A topic left
// without subscribers is dropped from the registry.
func (d *Dispatcher) UnSubscribe(topic event.Topic, sub event.Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs, ok := d.registry[topic]
	if !ok {
		return
	}
	kept := make([]event.Subscriber, 0, len(subs))
	for _, s := range subs {
		if !sameSubscriber(s, sub) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(d.registry, topic)
		return
	}
	d.registry[topic] = kept
}

// SubscribeOnce registers a wrapper around sub that removes itself after the
// first publish of topic. sub is not registered directly.
func (d *Dispatcher) SubscribeOnce(topic event.Topic, sub event.Subscriber) event.Subscription {
	w := newOnce(d, topic, sub)
	d.Subscribe(topic, w)
	return w
}

// Publish delivers evt to a snapshot of the subscribers registered for its
// topic. Subscriber failures, returned or panicked, are reported and never
// stop the fan-out.
func (d *Dispatcher) Publish(evt event.Event) {
	topic := evt.Topic()

	d.mu.Lock()
	subs := d.registry[topic]
	snapshot := make([]event.Subscriber, len(subs))
	copy(snapshot, subs)
	d.mu.Unlock()

	for _, sub := range snapshot {
		if err := d.invoke(sub, evt); err != nil {
			d.report(topic, sub, err)
		}
	}
}

// ResetAll drops every registration, pending one-shot ones included.
func (d *Dispatcher) ResetAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registry = make(map[event.Topic][]event.Subscriber)
}

// Topics returns the topics that currently have subscribers, sorted.
func (d *Dispatcher) Topics() []event.Topic {
	d.mu.Lock()
	topics := maps.Keys(d.registry)
	d.mu.Unlock()

	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// Len returns the number of registrations for topic.
func (d *Dispatcher) Len(topic event.Topic) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.registry[topic])
}

func (d *Dispatcher) invoke(sub event.Subscriber, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
			if d.config.ReportStack {
				err = &panicError{value: r, stack: zap.StackSkip("", 2).String}
			}
		}
	}()
	return sub.Handle(evt)
}

func (d *Dispatcher) report(topic event.Topic, sub event.Subscriber, err error) {
	err = ErrHandler.Wrap(err)

	fields := []zap.Field{
		zap.String("topic", string(topic)),
		zap.String("subscriber", subscriberName(sub)),
		zap.Error(err),
	}
	var pe *panicError
	if errors.As(err, &pe) && pe.stack != "" {
		fields = append(fields, zap.String("stacktrace", pe.stack))
	}
	d.logger.Error("event handler failed", fields...)

	if d.opts.errorHandler != nil {
		d.opts.errorHandler(topic, err)
	}
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// sameSubscriber compares by identity without panicking on values whose
// dynamic type is not comparable; those never match.
func sameSubscriber(a, b event.Subscriber) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() || !vb.Comparable() {
		return false
	}
	return a == b
}

func subscriberName(sub event.Subscriber) string {
	if w, ok := sub.(*once); ok {
		return fmt.Sprintf("once(%T)", w.sub)
	}
	return fmt.Sprintf("%T", sub)
}
