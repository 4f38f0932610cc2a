package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes run events over NATS core subjects. Events fan out
// under a per-type hierarchy, <prefix>.<event type>, so consumers can
// subscribe to just the lifecycle edges they care about (for example
// only run_completed) or to the whole run stream with a wildcard.
type NATSBus struct {
	nc     *nats.Conn
	prefix string
}

type NATSConfig struct {
	URL     string
	Subject string
}

func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("attendbot-eventbus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	prefix := cfg.Subject
	if prefix == "" {
		prefix = "attendbot.runs"
	}
	return &NATSBus{nc: nc, prefix: prefix}, nil
}

func (b *NATSBus) Publish(ctx context.Context, evt RunEvent) error {
	if !evt.MinimalValidate() {
		return fmt.Errorf("invalid event: missing required fields")
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.prefix+"."+evt.Type, data)
}

// Subscribe delivers every event under the prefix. Pass an eventType to
// narrow to one lifecycle edge.
func (b *NATSBus) Subscribe(ctx context.Context, eventType string, handler func(RunEvent)) (*nats.Subscription, error) {
	subject := b.prefix + ".>"
	if eventType != "" {
		subject = b.prefix + "." + eventType
	}
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		var evt RunEvent
		if err := json.Unmarshal(msg.Data, &evt); err == nil {
			handler(evt)
		}
	})
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = sub.Drain()
	}()
	return sub, nil
}

// Close drains the underlying connection.
func (b *NATSBus) Close() {
	if b.nc != nil {
		b.nc.Drain()
	}
}
