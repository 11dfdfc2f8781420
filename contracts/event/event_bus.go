package event

type EventBus interface {
	Subscribe(Topic, Subscriber)
	UnSubscribe(Topic, Subscriber)
	// SubscribeOnce 注册一次性订阅,首次发布后自动移除
	SubscribeOnce(Topic, Subscriber) Subscription
	// Publish 同步分发,所有订阅者执行完毕后返回
	Publish(Event)
	// ResetAll 清空全部订阅
	ResetAll()
}

// Subscriber is compared by identity when unsubscribing, so implementations
// should be pointers or other comparable values.
type Subscriber interface {
	Handle(Event) error
}

// Subscription is the handle of a one-shot registration.
type Subscription interface {
	ID() string
	// Unsubscribe cancels the registration if it has not fired yet.
	Unsubscribe()
}

type subscribeFunc struct {
	fn func(Event) error
}

func (s *subscribeFunc) Handle(evt Event) error {
	return s.fn(evt)
}

// NewSubscriber adapts fn into a Subscriber. Every call returns a distinct
// identity, even for the same fn.
func NewSubscriber(fn func(Event) error) Subscriber {
	return &subscribeFunc{fn: fn}
}
