package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/opdss/pubsub/contracts/event"
)

type loginPayload struct {
	UserID string
}

var userLogin = event.NewKind[loginPayload]("user:login")

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.ErrorLevel)
	return New(zap.New(core), Config{Name: t.Name(), ReportStack: true}, opts...), logs
}

func recorder(calls *[]string, name string) event.Handler[loginPayload] {
	return event.NewHandler(func(p loginPayload) error {
		*calls = append(*calls, name+":"+p.UserID)
		return nil
	})
}

func TestSubscribePublish(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got []loginPayload
	event.Subscribe(d, userLogin, event.NewHandler(func(p loginPayload) error {
		got = append(got, p)
		return nil
	}))

	event.Publish(d, userLogin, loginPayload{UserID: "u1"})
	require.Equal(t, []loginPayload{{UserID: "u1"}}, got)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	d, logs := newTestDispatcher(t)
	event.Publish(d, userLogin, loginPayload{UserID: "nobody"})
	assert.Empty(t, d.Topics())
	assert.Zero(t, logs.Len())
}

func TestFanOutOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	event.Subscribe(d, userLogin, recorder(&calls, "a"))
	event.Subscribe(d, userLogin, recorder(&calls, "b"))
	event.Subscribe(d, userLogin, recorder(&calls, "c"))

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	require.Equal(t, []string{"a:1", "b:1", "c:1"}, calls)
}

func TestDuplicateSubscription(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	h := recorder(&calls, "dup")
	other := recorder(&calls, "other")
	event.Subscribe(d, userLogin, h)
	event.Subscribe(d, userLogin, other)
	event.Subscribe(d, userLogin, h)

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	require.Equal(t, []string{"dup:1", "other:1", "dup:1"}, calls)

	// both registrations of h go away in one call
	event.Unsubscribe(d, userLogin, h)
	require.Equal(t, 1, d.Len(userLogin.Topic()))

	calls = nil
	event.Publish(d, userLogin, loginPayload{UserID: "2"})
	require.Equal(t, []string{"other:2"}, calls)
}

func TestUnsubscribeDropsEmptyTopic(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	h := recorder(&calls, "a")
	event.Subscribe(d, userLogin, h)
	require.Equal(t, []event.Topic{"user:login"}, d.Topics())

	event.Unsubscribe(d, userLogin, h)
	require.Empty(t, d.Topics())
	require.Zero(t, d.Len(userLogin.Topic()))

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	require.Empty(t, calls)
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	d, logs := newTestDispatcher(t)

	var calls []string
	registered := recorder(&calls, "registered")
	stranger := recorder(&calls, "stranger")

	require.NotPanics(t, func() {
		event.Unsubscribe(d, userLogin, stranger)
	})
	require.Empty(t, d.Topics())

	event.Subscribe(d, userLogin, registered)
	event.Unsubscribe(d, userLogin, stranger)
	event.Unsubscribe(d, event.NewKind[loginPayload]("user:logout"), registered)
	require.Equal(t, []event.Topic{"user:login"}, d.Topics())
	require.Equal(t, 1, d.Len(userLogin.Topic()))
	require.Zero(t, logs.Len())
}

func TestIdentityNotValue(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var n int
	fn := func(loginPayload) error { n++; return nil }
	first := event.NewHandler(fn)
	second := event.NewHandler(fn)
	event.Subscribe(d, userLogin, first)

	event.Unsubscribe(d, userLogin, second)
	event.Publish(d, userLogin, loginPayload{})
	require.Equal(t, 1, n)
}

type funcSubscriber func(event.Event) error

func (f funcSubscriber) Handle(evt event.Event) error { return f(evt) }

func TestUnsubscribeNonComparable(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var n int
	sub := funcSubscriber(func(event.Event) error { n++; return nil })
	d.Subscribe("raw", sub)

	require.NotPanics(t, func() { d.UnSubscribe("raw", sub) })
	require.Equal(t, 1, d.Len("raw"))
}

func TestSubscribeOnce(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	sub := event.SubscribeOnce(d, userLogin, recorder(&calls, "once"))
	require.NotEmpty(t, sub.ID())

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	event.Publish(d, userLogin, loginPayload{UserID: "2"})
	require.Equal(t, []string{"once:1"}, calls)
	require.Empty(t, d.Topics())
}

func TestSubscribeOnceOriginalHandlerNotRemovable(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	h := recorder(&calls, "once")
	event.SubscribeOnce(d, userLogin, h)

	event.Unsubscribe(d, userLogin, h)
	require.Equal(t, 1, d.Len(userLogin.Topic()))

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	require.Equal(t, []string{"once:1"}, calls)
}

func TestSubscriptionCancel(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	sub := event.SubscribeOnce(d, userLogin, recorder(&calls, "once"))
	sub.Unsubscribe()
	require.Empty(t, d.Topics())

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	require.Empty(t, calls)

	require.NotPanics(t, sub.Unsubscribe)
}

func TestSubscribeOnceReentrantPublish(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var n int
	event.SubscribeOnce(d, userLogin, event.NewHandler(func(p loginPayload) error {
		n++
		event.Publish(d, userLogin, p)
		return nil
	}))

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	require.Equal(t, 1, n)
	require.Empty(t, d.Topics())
}

func TestSubscribeOnceFailureStillRemoved(t *testing.T) {
	var reported []error
	d, _ := newTestDispatcher(t, WithErrorHandler(func(_ event.Topic, err error) {
		reported = append(reported, err)
	}))

	var n int
	event.SubscribeOnce(d, userLogin, event.NewHandler(func(loginPayload) error {
		n++
		panic("boom")
	}))

	event.Publish(d, userLogin, loginPayload{})
	event.Publish(d, userLogin, loginPayload{})
	require.Equal(t, 1, n)
	require.Len(t, reported, 1)
	require.Empty(t, d.Topics())
}

func TestFailureIsolation(t *testing.T) {
	var reported []event.Topic
	d, logs := newTestDispatcher(t, WithErrorHandler(func(topic event.Topic, err error) {
		require.True(t, ErrHandler.Has(err))
		reported = append(reported, topic)
	}))

	var calls []string
	event.Subscribe(d, userLogin, event.NewHandler(func(loginPayload) error {
		panic("first handler exploded")
	}))
	event.Subscribe(d, userLogin, event.NewHandler(func(loginPayload) error {
		return errors.New("second handler failed")
	}))
	event.Subscribe(d, userLogin, recorder(&calls, "third"))

	require.NotPanics(t, func() {
		event.Publish(d, userLogin, loginPayload{UserID: "1"})
	})
	require.Equal(t, []string{"third:1"}, calls)
	require.Equal(t, []event.Topic{"user:login", "user:login"}, reported)

	entries := logs.FilterMessage("event handler failed").All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	assert.Equal(t, "user:login", fields["topic"])
	assert.Equal(t, t.Name(), fields["bus"])
	assert.Contains(t, fields["error"], "first handler exploded")
	assert.Contains(t, fields, "stacktrace")
	assert.Contains(t, entries[1].ContextMap()["error"], "second handler failed")
}

func TestPanicWithoutStack(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	d := New(zap.New(core), Config{Name: "quiet"})

	d.Subscribe("raw", event.NewSubscriber(func(event.Event) error { panic("x") }))
	d.Publish(event.NewKind[int]("raw").Event(1))

	require.Equal(t, 1, logs.Len())
	assert.NotContains(t, logs.All()[0].ContextMap(), "stacktrace")
}

func TestPayloadMismatchReported(t *testing.T) {
	var reported []error
	d, _ := newTestDispatcher(t, WithErrorHandler(func(_ event.Topic, err error) {
		reported = append(reported, err)
	}))

	var calls []string
	event.Subscribe(d, userLogin, recorder(&calls, "typed"))

	// same topic name, different payload type
	d.Publish(event.NewKind[string]("user:login").Event("not a payload"))
	require.Empty(t, calls)
	require.Len(t, reported, 1)
	require.True(t, event.ErrPayload.Has(reported[0]))
}

func TestSubscribeDuringPublish(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	late := recorder(&calls, "late")
	event.Subscribe(d, userLogin, event.NewHandler(func(p loginPayload) error {
		calls = append(calls, "early:"+p.UserID)
		event.Subscribe(d, userLogin, late)
		return nil
	}))

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	require.Equal(t, []string{"early:1"}, calls)

	calls = nil
	event.Publish(d, userLogin, loginPayload{UserID: "2"})
	require.Equal(t, []string{"early:2", "late:2"}, calls)
}

func TestUnsubscribeSelfDuringPublish(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	var self event.Handler[loginPayload]
	self = event.NewHandler(func(p loginPayload) error {
		event.Unsubscribe(d, userLogin, self)
		calls = append(calls, "self:"+p.UserID)
		return nil
	})
	event.Subscribe(d, userLogin, self)
	event.Subscribe(d, userLogin, recorder(&calls, "next"))

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	require.Equal(t, []string{"self:1", "next:1"}, calls)

	calls = nil
	event.Publish(d, userLogin, loginPayload{UserID: "2"})
	require.Equal(t, []string{"next:2"}, calls)
}

func TestUnsubscribeOtherDuringPublish(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	victim := recorder(&calls, "victim")
	event.Subscribe(d, userLogin, event.NewHandler(func(loginPayload) error {
		event.Unsubscribe(d, userLogin, victim)
		return nil
	}))
	event.Subscribe(d, userLogin, victim)

	// the snapshot still holds victim for this publish
	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	require.Equal(t, []string{"victim:1"}, calls)

	calls = nil
	event.Publish(d, userLogin, loginPayload{UserID: "2"})
	require.Empty(t, calls)
}

func TestResetAll(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls []string
	event.Subscribe(d, userLogin, recorder(&calls, "a"))
	event.SubscribeOnce(d, userLogin, recorder(&calls, "once"))
	d.Subscribe("other", event.NewSubscriber(func(event.Event) error {
		calls = append(calls, "other")
		return nil
	}))

	d.ResetAll()
	require.Empty(t, d.Topics())

	event.Publish(d, userLogin, loginPayload{UserID: "1"})
	d.Publish(event.NewKind[struct{}]("other").Event(struct{}{}))
	require.Empty(t, calls)
}

func TestNilLogger(t *testing.T) {
	d := New(nil, Config{})
	d.Subscribe("raw", event.NewSubscriber(func(event.Event) error {
		return errors.New("ignored")
	}))
	require.NotPanics(t, func() {
		d.Publish(event.NewKind[int]("raw").Event(1))
	})
}
