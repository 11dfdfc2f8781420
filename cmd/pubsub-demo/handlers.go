package main

import (
	"fmt"
	"io"

	"github.com/opdss/pubsub/contracts/event"
	"github.com/opdss/pubsub/schema"
)

// registerHandlers wires the sample subscribers: every chat message and login
// is printed, the first application error only.
func registerHandlers(bus event.EventBus, w io.Writer) {
	event.Subscribe(bus, schema.ChatMessageKind, event.NewHandler(func(m schema.ChatMessage) error {
		_, err := fmt.Fprintf(w, "[%s]: %s\n", m.Sender, m.Text)
		return err
	}))
	event.Subscribe(bus, schema.UserLoginKind, event.NewHandler(func(l schema.UserLogin) error {
		_, err := fmt.Fprintf(w, "user login: %s\n", l.UserID)
		return err
	}))
	event.SubscribeOnce(bus, schema.AppErrorKind, event.NewHandler(func(e schema.AppError) error {
		_, err := fmt.Fprintf(w, "CRITICAL ERROR %d: %s\n", e.Code, e.Message)
		return err
	}))
}
