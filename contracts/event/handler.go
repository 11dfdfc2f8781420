package event

// Handler receives the payload of a single event kind.
type Handler[P any] interface {
	Handle(P) error
}

type handlerFunc[P any] struct {
	fn func(P) error
}

func (h *handlerFunc[P]) Handle(payload P) error {
	return h.fn(payload)
}

// NewHandler adapts fn into a Handler. Keep the returned value to unsubscribe
// later; two calls never yield equal handlers.
func NewHandler[P any](fn func(P) error) Handler[P] {
	return &handlerFunc[P]{fn: fn}
}

// typedSubscriber is a value type: adapters around the same Handler compare
// equal, which lets Unsubscribe find what Subscribe registered.
type typedSubscriber[P any] struct {
	topic   Topic
	handler Handler[P]
}

func (s typedSubscriber[P]) Handle(evt Event) error {
	payload, ok := evt.Payload().(P)
	if !ok {
		var want P
		return ErrPayload.New("topic %q expects %T, got %T", s.topic, want, evt.Payload())
	}
	return s.handler.Handle(payload)
}

func Subscribe[P any](bus EventBus, kind Kind[P], h Handler[P]) {
	bus.Subscribe(kind.Topic(), typedSubscriber[P]{topic: kind.Topic(), handler: h})
}

func Unsubscribe[P any](bus EventBus, kind Kind[P], h Handler[P]) {
	bus.UnSubscribe(kind.Topic(), typedSubscriber[P]{topic: kind.Topic(), handler: h})
}

// SubscribeOnce registers h for the first publish of kind only. h itself is
// never registered, so Unsubscribe(bus, kind, h) leaves it in place; use the
// returned Subscription instead.
func SubscribeOnce[P any](bus EventBus, kind Kind[P], h Handler[P]) Subscription {
	return bus.SubscribeOnce(kind.Topic(), typedSubscriber[P]{topic: kind.Topic(), handler: h})
}

func Publish[P any](bus EventBus, kind Kind[P], payload P) {
	bus.Publish(kind.Event(payload))
}
