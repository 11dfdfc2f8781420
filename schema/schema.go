// Package schema declares the sample event kinds used by the demo client and
// the decoders that let scripts publish them by name.
package schema

import (
	"github.com/zeebo/errs"

	"github.com/opdss/pubsub/contracts/event"
)

// ErrUnknownKind 脚本中使用了未声明的事件类型
var ErrUnknownKind = errs.Class("unknown event kind")

type UserLogin struct {
	UserID string `yaml:"user_id"`
}

type ChatMessage struct {
	Text   string `yaml:"text"`
	Sender string `yaml:"sender"`
}

type AppError struct {
	Code    int    `yaml:"code"`
	Message string `yaml:"message"`
}

var (
	UserLoginKind   = event.NewKind[UserLogin]("user:login")
	ChatMessageKind = event.NewKind[ChatMessage]("chat:message")
	AppErrorKind    = event.NewKind[AppError]("app:error")
)

// Decoder turns a raw payload into an event of a known kind. unmarshal fills
// the typed payload, in the style of yaml.Unmarshaler.
type Decoder func(unmarshal func(any) error) (event.Event, error)

// Decoders maps topic names to typed payload decoders.
type Decoders map[event.Topic]Decoder

// Register adds kind to the table.
func Register[P any](d Decoders, kind event.Kind[P]) {
	d[kind.Topic()] = func(unmarshal func(any) error) (event.Event, error) {
		var payload P
		if err := unmarshal(&payload); err != nil {
			return nil, err
		}
		return kind.Event(payload), nil
	}
}

// Decode builds the event for topic from the raw payload.
func (d Decoders) Decode(topic event.Topic, unmarshal func(any) error) (event.Event, error) {
	dec, ok := d[topic]
	if !ok {
		return nil, ErrUnknownKind.New("%q", topic)
	}
	return dec(unmarshal)
}

// Default returns the decoders for every kind declared in this package.
func Default() Decoders {
	d := Decoders{}
	Register(d, UserLoginKind)
	Register(d, ChatMessageKind)
	Register(d, AppErrorKind)
	return d
}
