package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/nats-io/nats.go"
)

const StreamName = "PAYMENTS"

type NatsPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger glog.Logger
}

// NewNatsPublisher connects to natsURL and makes sure the PAYMENTS stream
// exists.
func NewNatsPublisher(natsURL string, logger glog.Logger) (*NatsPublisher, error) {
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}
	if logger == nil {
		logger = glog.Nop()
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("checkout-payments"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: jetstream context: %w", err)
	}

	p := &NatsPublisher{conn: conn, js: js, logger: logger}
	if err := p.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *NatsPublisher) ensureStream() error {
	_, err := p.js.StreamInfo(StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("events: stream info: %w", err)
	}

	_, err = p.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectCompleted, SubjectFailed},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("events: add stream: %w", err)
	}
	p.logger.Info("nats stream created", "stream", StreamName)
	return nil
}

func (p *NatsPublisher) Publish(ctx context.Context, event PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", event.Subject(), err)
	}
	ack, err := p.js.Publish(event.Subject(), data, nats.Context(ctx), nats.MsgId(event.MessageID()))
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Subject(), err)
	}
	if ack.Duplicate {
		p.logger.Debug("payment event already published", "subject", event.Subject(), "msg_id", event.MessageID())
	}
	return nil
}

func (p *NatsPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
