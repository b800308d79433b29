// Package eventbus is the Event publisher of spec §2: a thin adapter that
// forwards connection-state changes (and subscription acks) to an
// external event bus. The external bus itself is an out-of-scope
// collaborator (spec §1); this package defines the Hub interface the
// provider depends on and ships a self-contained default implementation
// so the module is usable without a caller-supplied bus, grounded on
// nasnet-community-nasnet-panel's internal/events/bus.go, which wires the
// same github.com/ThreeDotsLabs/watermill stack.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Hub is the external event bus collaborator the provider publishes to.
// A caller integrating with their own Watermill (or other) bus can
// implement this directly; GoChannelHub is the bundled default.
type Hub interface {
	// Publish emits event (either a ConnectionStateChangeEvent or a
	// SubscriptionAckEvent) on Topic.
	Publish(ctx context.Context, eventName string, data interface{}, message string) error

	// Close releases the hub's resources.
	Close() error
}

// GoChannelHub is a minimal, self-contained Hub backed by Watermill's
// in-memory gochannel pub/sub, the same pairing nasnet-community-nasnet-panel
// uses for its internal event bus.
type GoChannelHub struct {
	pubsub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

// NewGoChannelHub returns a ready-to-use Hub. Subscribe via Messages to
// observe emissions (used by tests and by callers who want a local sink
// without wiring an external bus).
func NewGoChannelHub() *GoChannelHub {
	logger := watermill.NopLogger{}
	return &GoChannelHub{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		}, logger),
		logger: logger,
	}
}

// Messages returns the live subscription channel for Topic.
func (h *GoChannelHub) Messages(ctx context.Context) (<-chan *message.Message, error) {
	return h.pubsub.Subscribe(ctx, Topic)
}

// Publish implements Hub.
func (h *GoChannelHub) Publish(ctx context.Context, eventName string, data interface{}, msg string) error {
	envelope := Envelope{Event: eventName, Data: data, Message: msg}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("eventbus: marshal envelope: %w", err)
	}
	wmsg := message.NewMessage(watermill.NewUUID(), payload)
	wmsg.Metadata.Set("event", eventName)
	if err := h.pubsub.Publish(Topic, wmsg); err != nil {
		return fmt.Errorf("eventbus: publish: %w", err)
	}
	return nil
}

// Close implements Hub.
func (h *GoChannelHub) Close() error {
	return h.pubsub.Close()
}

// Noop discards every emission; useful as a default when the caller has
// not configured a Hub and does not want one.
type Noop struct{}

// Publish implements Hub.
func (Noop) Publish(context.Context, string, interface{}, string) error { return nil }

// Close implements Hub.
func (Noop) Close() error { return nil }
