// Package scenario runs scripted publish/reset sequences against an event
// bus. Scripts are YAML documents:
//
//	steps:
//	  - kind: chat:message
//	    payload: {text: "Hello world!", sender: user456}
//	  - action: reset
package scenario

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"os"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/opdss/pubsub/contracts/event"
	"github.com/opdss/pubsub/schema"
)

// Error is the class of all scenario errors.
var Error = errs.Class("scenario")

// Reference is the built-in demo script: one chat message, then the same
// error kind published twice.
//
//go:embed reference.yaml
var Reference []byte

// LoadReference loads the built-in demo script.
func LoadReference(decoders schema.Decoders) (*Script, error) {
	return Load(bytes.NewReader(Reference), decoders)
}

type Action string

const (
	ActionPublish Action = "publish"
	ActionReset   Action = "reset"
)

type Step struct {
	Action  Action      `yaml:"action"`
	Kind    event.Topic `yaml:"kind"`
	Payload interface{} `yaml:"payload"`

	event event.Event
}

// Event returns the decoded event of a publish step.
func (s *Step) Event() event.Event {
	return s.event
}

type Script struct {
	Steps []Step `yaml:"steps"`
}

// Load parses a script and decodes every publish payload with decoders.
// Nothing is published; a script that fails to load is rejected as a whole.
func Load(r io.Reader, decoders schema.Decoders) (*Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var script Script
	if err := yaml.UnmarshalStrict(data, &script); err != nil {
		return nil, Error.Wrap(err)
	}
	for i := range script.Steps {
		if err := script.Steps[i].prepare(decoders); err != nil {
			return nil, Error.New("step %d: %v", i, err)
		}
	}
	return &script, nil
}

func LoadFile(path string, decoders schema.Decoders) (_ *Script, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, f.Close()) }()
	return Load(f, decoders)
}

func (s *Step) prepare(decoders schema.Decoders) error {
	if s.Action == "" {
		s.Action = ActionPublish
	}
	switch s.Action {
	case ActionReset:
		return nil
	case ActionPublish:
	default:
		return errs.New("unknown action %q", s.Action)
	}
	if s.Kind == "" {
		return errs.New("publish step without kind")
	}

	raw, err := yaml.Marshal(s.Payload)
	if err != nil {
		return err
	}
	s.event, err = decoders.Decode(s.Kind, func(v any) error {
		return yaml.UnmarshalStrict(raw, v)
	})
	return err
}

type Runner struct {
	bus    event.EventBus
	logger *zap.Logger
}

func NewRunner(logger *zap.Logger, bus event.EventBus) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{bus: bus, logger: logger}
}

// Run executes the steps in order. It stops early only when ctx is done;
// subscriber failures are handled by the bus.
func (r *Runner) Run(ctx context.Context, script *Script) error {
	for i := range script.Steps {
		if err := ctx.Err(); err != nil {
			return Error.New("step %d: %v", i, err)
		}
		step := &script.Steps[i]
		switch step.Action {
		case ActionReset:
			r.logger.Debug("reset", zap.Int("step", i))
			r.bus.ResetAll()
		default:
			r.logger.Debug("publish", zap.Int("step", i), zap.String("topic", string(step.Kind)))
			r.bus.Publish(step.event)
		}
	}
	return nil
}
