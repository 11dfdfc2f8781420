package event

import "github.com/zeebo/errs"

// ErrPayload 事件载荷类型与事件类型声明不一致
var ErrPayload = errs.Class("event payload")

// Topic 事件类型标识
type Topic string

type Event interface {
	Topic() Topic
	Payload() any
}

// Kind binds a Topic to the payload type P carried by every event of that
// topic. Typed Subscribe/Publish calls only accept handlers and payloads of P.
type Kind[P any] struct {
	topic Topic
}

func NewKind[P any](name string) Kind[P] {
	return Kind[P]{topic: Topic(name)}
}

func (k Kind[P]) Topic() Topic {
	return k.topic
}

func (k Kind[P]) String() string {
	return string(k.topic)
}

// Event wraps payload into an Event of this kind.
func (k Kind[P]) Event(payload P) Event {
	return envelope[P]{topic: k.topic, payload: payload}
}

type envelope[P any] struct {
	topic   Topic
	payload P
}

func (e envelope[P]) Topic() Topic {
	return e.topic
}

func (e envelope[P]) Payload() any {
	return e.payload
}
