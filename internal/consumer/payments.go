package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
	"ticketing/internal/metrics"
	"ticketing/internal/services"
	"ticketing/internal/utils"
)

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, ticketID, paymentRef string, outcome models.PaymentOutcome) (services.PaymentResult, error)
}

// PaymentMessage is one gateway outcome as published on the payments topic.
type PaymentMessage struct {
	TicketID   string                `json:"ticketId"`
	PaymentRef string                `json:"paymentRef"`
	Outcome    models.PaymentOutcome `json:"outcome"`
}

// PaymentConsumer feeds gateway outcomes into ConfirmPayment. A message is
// committed once it has a final answer. Retryable failures are retried in
// place with backoff, so the offset stays uncommitted until they resolve.
type PaymentConsumer struct {
	Reader     MessageReader
	Payments   PaymentConfirmer
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: false,
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		Dialer:      dialer,
		StartOffset: kafka.FirstOffset,
	})
}

// Run consumes until ctx is done. It returns nil on cancellation.
func (c PaymentConsumer) Run(ctx context.Context) error {
	defer c.Reader.Close()
	utils.LogEvent("", "consumer", "start", "payment outcomes")

	for {
		msg, err := c.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch payment message: %w", err)
		}

		if !c.handle(ctx, msg) {
			// Cancelled mid-retry; leave the offset for redelivery.
			return nil
		}
		if err := c.Reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit payment message: %w", err)
		}
	}
}

// handle reports whether msg reached a final outcome and may be committed.
func (c PaymentConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	var pm PaymentMessage
	if err := json.Unmarshal(msg.Value, &pm); err != nil {
		metrics.PaymentMessages.WithLabelValues("malformed").Inc()
		utils.LogEvent("", "consumer", "decode", fmt.Sprintf("offset=%d malformed payload: %v", msg.Offset, err))
		return true
	}
	pm.Outcome = models.PaymentOutcome(strings.ToLower(strings.TrimSpace(string(pm.Outcome))))
	requestID := messageID(msg)

	backoff := c.MinBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	maxBackoff := c.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Second
	}

	for {
		res, err := c.Payments.ConfirmPayment(ctx, pm.TicketID, pm.PaymentRef, pm.Outcome)
		switch {
		case err == nil:
			metrics.PaymentMessages.WithLabelValues("applied").Inc()
			utils.LogEvent(requestID, "consumer", "confirm", fmt.Sprintf("ticket=%s status=%s replayed=%v", res.TicketID, res.Status, res.Replayed))
			return true
		case !retryable(err):
			metrics.PaymentMessages.WithLabelValues("rejected").Inc()
			utils.LogEvent(requestID, "consumer", "confirm", fmt.Sprintf("ticket=%s rejected: %v", pm.TicketID, err))
			return true
		}

		metrics.PaymentMessages.WithLabelValues("retry").Inc()
		utils.LogEvent(requestID, "consumer", "confirm", fmt.Sprintf("ticket=%s retry in %s: %v", pm.TicketID, backoff, err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// retryable is true for Conflict, Unavailable-class kinds and untyped
// infrastructure errors. Every other typed outcome is final.
func retryable(err error) bool {
	if domain.IsRetryable(err) {
		return true
	}
	if _, typed := domain.KindOf(err); typed {
		return false
	}
	if domain.IsValidation(err) || domain.IsNotFound(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

func messageID(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Key, "X-Request-ID") {
			return string(h.Value)
		}
	}
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}
