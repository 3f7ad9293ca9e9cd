package electrician

import (
	"context"
	"fmt"

	"github.com/joeydtaylor/steeze-applink/pkg/codec"
	"github.com/joeydtaylor/steeze-applink/pkg/dispatch"
)

// CompletionType tags completion envelopes on the relay.
const CompletionType = "applink.async.completion"

type completionEnvelope struct {
	Type       string              `json:"type"`
	Topic      string              `json:"topic"`
	Completion dispatch.Completion `json:"completion"`
}

// Notifier publishes async completions to the relay. The relay carries
// only bytes plus its static headers, so type, topic and request id travel
// in the envelope body.
type Notifier struct {
	pub Publisher
}

func NewNotifier(pub Publisher) *Notifier {
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Notifier{pub: pub}
}

func (n *Notifier) Notify(ctx context.Context, c dispatch.Completion) error {
	body, err := codec.JSONLenient.Marshal(completionEnvelope{Type: CompletionType, Topic: c.Topic, Completion: c})
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}
	return n.pub.Publish(ctx, RelayRequest{Topic: c.Topic, Body: body})
}

var _ dispatch.Notifier = (*Notifier)(nil)
