// Package events fans scan state changes out to a message broker.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/metrics"
	"github.com/sells-group/petscan/internal/model"
)

type amqpConn interface {
	IsClosed() bool
	Close() error
}

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialer opens a connection and a channel with the exchange declared.
type dialer func(url, exchange string) (amqpConn, amqpChannel, error)

// AMQPPublisher publishes scan events to a topic exchange with routing key
// "scan.<status>". It reconnects once when the broker has dropped the
// connection.
type AMQPPublisher struct {
	mu       sync.Mutex
	url      string
	exchange string
	dial     dialer
	timeout  time.Duration
	conn     amqpConn
	channel  amqpChannel
	now      func() time.Time
}

// NewAMQPPublisher connects to url and declares exchange as a durable topic
// exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	return newAMQPPublisher(url, exchange, dialAMQP)
}

func newAMQPPublisher(url, exchange string, dial dialer) (*AMQPPublisher, error) {
	p := &AMQPPublisher{
		url:      url,
		exchange: exchange,
		dial:     dial,
		timeout:  10 * time.Second,
		now:      time.Now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connectLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func dialAMQP(url, exchange string) (amqpConn, amqpChannel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, eris.Wrap(err, "events: dial broker")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close() //nolint:errcheck
		return nil, nil, eris.Wrap(err, "events: open channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()   //nolint:errcheck
		conn.Close() //nolint:errcheck
		return nil, nil, eris.Wrapf(err, "events: declare exchange %s", exchange)
	}
	return conn, ch, nil
}

// RoutingKey returns the routing key for an event.
func RoutingKey(ev model.Event) string {
	return "scan." + string(ev.To)
}

// Publish sends ev as JSON.
func (p *AMQPPublisher) Publish(ctx context.Context, ev model.Event) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal event")
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    p.now(),
		MessageId:    ev.ScanID + ":" + string(ev.To),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.channel == nil {
		p.closeLocked()
		if err := p.connectLocked(); err != nil {
			return err
		}
	}

	key := RoutingKey(ev)
	err = p.channel.Publish(p.exchange, key, false, false, msg)
	if err != nil && isConnClosedErr(err) {
		p.closeLocked()
		if connErr := p.connectLocked(); connErr != nil {
			return eris.Wrapf(err, "events: publish %s (reconnect failed: %v)", key, connErr)
		}
		err = p.channel.Publish(p.exchange, key, false, false, msg)
	}
	if err != nil {
		return eris.Wrapf(err, "events: publish %s", key)
	}
	return ctx.Err()
}

// Handle is a scan event observer. Publish failures are logged and counted,
// never propagated into the scan.
func (p *AMQPPublisher) Handle(ev model.Event) {
	if err := p.Publish(context.Background(), ev); err != nil {
		metrics.EventPublishErrors.Inc()
		zap.L().Warn("events: publish failed",
			zap.String("scan_id", ev.ScanID),
			zap.String("status", string(ev.To)),
			zap.Error(err),
		)
	}
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.conn != nil {
		if connErr := p.conn.Close(); connErr != nil && err == nil {
			err = connErr
		}
	}
	p.channel, p.conn = nil, nil
	if err != nil {
		return eris.Wrap(err, "events: close")
	}
	return nil
}

func (p *AMQPPublisher) connectLocked() error {
	conn, ch, err := p.dial(p.url, p.exchange)
	if err != nil {
		return err
	}
	p.conn, p.channel = conn, ch
	return nil
}

func (p *AMQPPublisher) closeLocked() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func isConnClosedErr(err error) bool {
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	return strings.Contains(err.Error(), "channel/connection is not open")
}
