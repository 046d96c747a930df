package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/chargeflow/internal/cdr/domain"
	"github.com/smallbiznis/chargeflow/internal/config"
	"go.uber.org/zap"
)

const (
	exchangeKind         = "topic"
	revenueModelRouteKey = "revenue_model.registered"
	dialTimeout          = 10 * time.Second
)

// AMQP publishes accounting records as JSON to a durable topic exchange.
type AMQP struct {
	log        *zap.Logger
	exchange   string
	routingKey string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func DialAMQP(cfg config.AccountingConfig, log *zap.Logger) (*AMQP, error) {
	cleanURL, err := sanitizeAMQPURL(cfg.AMQPURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &AMQP{
		log:        log.Named("cdr.sink.amqp"),
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		conn:       conn,
		channel:    ch,
	}
	if err := s.declare(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *AMQP) SendCDRs(ctx context.Context, records []domain.Record) error {
	return s.publish(ctx, s.routingKey, records)
}

func (s *AMQP) SendRevenueModel(ctx context.Context, model domain.RevenueModel) error {
	return s.publish(ctx, revenueModelRouteKey, model)
}

func (s *AMQP) publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel == nil {
		return domain.ErrSinkUnavailable
	}

	err = s.channel.PublishWithContext(ctx, s.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	s.log.Warn("publish failed, reopening channel",
		zap.String("exchange", s.exchange),
		zap.String("routing_key", routingKey),
		zap.Error(err),
	)
	if reopenErr := s.reopen(); reopenErr != nil {
		return errors.Join(err, reopenErr)
	}
	return s.channel.PublishWithContext(ctx, s.exchange, routingKey, false, false, msg)
}

// reopen must be called with mu held.
func (s *AMQP) reopen() error {
	if s.conn == nil || s.conn.IsClosed() {
		return domain.ErrSinkUnavailable
	}
	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	s.channel = ch
	return s.declare()
}

func (s *AMQP) declare() error {
	return s.channel.ExchangeDeclare(s.exchange, exchangeKind, true, false, false, false, nil)
}

func (s *AMQP) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.channel != nil {
		errs = append(errs, s.channel.Close())
		s.channel = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	return errors.Join(errs...)
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", fmt.Errorf("accounting url scheme must be amqp or amqps, got %q", u.Scheme)
	}
	return clean, nil
}
