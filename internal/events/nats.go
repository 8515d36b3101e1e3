package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/sessions/internal/codec"
)

const (
	// subscriptionBuffer bounds the messages held between the NATS client
	// and a consumer. Beyond it NATS reports a slow consumer.
	subscriptionBuffer = 256
	clientName         = "sessiond"
)

func connect(url string, extra []nats.Option) (*nats.Conn, error) {
	opts := append([]nats.Option{
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, extra...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher encodes events with a codec and publishes them on NATS.
type NATSPublisher struct {
	conn  *nats.Conn
	codec codec.Codec
}

func NewNATSPublisher(url string, c codec.Codec, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, codec: c}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := p.codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", topic, err)
	}
	msg := nats.NewMsg(topic)
	msg.Data = data
	if enc := p.codec.ContentEncoding(); enc != "" {
		msg.Header.Set("Content-Encoding", enc)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Flush blocks until the server has acknowledged everything published so far.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	return p.conn.FlushWithContext(ctx)
}

// Close drains pending publishes before disconnecting.
func (p *NATSPublisher) Close() error {
	if p.conn.IsClosed() || p.conn.IsDraining() {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain NATS publisher: %w", err)
	}
	return nil
}

// NATSSubscriber consumes events from NATS. With a queue group set, each
// message reaches exactly one member of the group.
type NATSSubscriber struct {
	conn  *nats.Conn
	queue string
}

// NewNATSSubscriber connects with unlimited reconnects. Extra options such
// as reconnect handlers are applied after the defaults.
func NewNATSSubscriber(url, queue string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc, queue: queue}, nil
}

// Subscribe accepts NATS wildcards such as "sessions.>". The subscription
// is registered on the server before Subscribe returns.
func (s *NATSSubscriber) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	in := make(chan *nats.Msg, subscriptionBuffer)
	var (
		sub *nats.Subscription
		err error
	)
	if s.queue != "" {
		sub, err = s.conn.ChanQueueSubscribe(topic, s.queue, in)
	} else {
		sub, err = s.conn.ChanSubscribe(topic, in)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("register subscription %s: %w", topic, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer sub.Unsubscribe() //nolint:errcheck
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-in:
				select {
				case out <- Message{Topic: m.Subject, Data: m.Data}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
