package eventbus

import "github.com/opdss/pubsub/contracts/event"

type Option func(opt *options)

// WithErrorHandler 订阅者执行失败时的回调,在日志之外额外调用
func WithErrorHandler(fn func(topic event.Topic, err error)) Option {
	return func(opt *options) {
		opt.errorHandler = fn
	}
}

type options struct {
	errorHandler func(event.Topic, error)
}

func newOptions(opts ...Option) *options {
	o := &options{}
	for i := range opts {
		opts[i](o)
	}
	return o
}
