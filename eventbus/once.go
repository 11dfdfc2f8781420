package eventbus

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opdss/pubsub/contracts/event"
)

var _ event.Subscription = (*once)(nil)

// once is the wrapper registered by SubscribeOnce. It is a pointer so that it
// can find and remove itself from the dispatcher.
type once struct {
	id    string
	bus   *Dispatcher
	topic event.Topic
	sub   event.Subscriber
	fired atomic.Bool
}

func newOnce(bus *Dispatcher, topic event.Topic, sub event.Subscriber) *once {
	return &once{
		id:    uuid.New().String(),
		bus:   bus,
		topic: topic,
		sub:   sub,
	}
}

// Handle runs the wrapped subscriber at most once, then unregisters the
// wrapper before returning, even if the subscriber failed.
func (o *once) Handle(evt event.Event) error {
	if !o.fired.CompareAndSwap(false, true) {
		return nil
	}
	defer o.bus.UnSubscribe(o.topic, o)
	return o.sub.Handle(evt)
}

func (o *once) ID() string {
	return o.id
}

func (o *once) Unsubscribe() {
	o.fired.Store(true)
	o.bus.UnSubscribe(o.topic, o)
}
