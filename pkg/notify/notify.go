// Package notify publishes budget alert events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pario-ai/steer/pkg/models"
)

// EventBudgetThreshold is the event type of a threshold crossing.
const EventBudgetThreshold = "budget.threshold_crossed"

// AlertEvent is published when usage moves a budget across an alert threshold.
type AlertEvent struct {
	EventID              string           `json:"event_id"`
	EventType            string           `json:"event_type"`
	BudgetID             string           `json:"budget_id"`
	BudgetName           string           `json:"budget_name"`
	ScopeType            models.ScopeType `json:"scope_type"`
	ScopeID              string           `json:"scope_id"`
	Threshold            float64          `json:"threshold"`
	PercentUsed          float64          `json:"percent_used"`
	CurrentAmount        float64          `json:"current_amount"`
	Limit                float64          `json:"limit"`
	Currency             string           `json:"currency"`
	Actions              []models.Action  `json:"actions"`
	NotificationChannels []string         `json:"notification_channels,omitempty"`
	Timestamp            time.Time        `json:"timestamp"`
}

// NewAlertEvent builds the event for budget crossing alert at percentUsed.
func NewAlertEvent(b *models.Budget, alert models.Alert, current, percentUsed float64) AlertEvent {
	return AlertEvent{
		EventID:              uuid.NewString(),
		EventType:            EventBudgetThreshold,
		BudgetID:             b.ID,
		BudgetName:           b.Name,
		ScopeType:            b.ScopeType,
		ScopeID:              b.ScopeID,
		Threshold:            alert.Threshold,
		PercentUsed:          percentUsed,
		CurrentAmount:        current,
		Limit:                b.Amount,
		Currency:             b.Currency,
		Actions:              alert.Actions,
		NotificationChannels: alert.NotificationChannels,
		Timestamp:            time.Now().UTC(),
	}
}

// Notifier delivers alert events.
type Notifier interface {
	Notify(ctx context.Context, event AlertEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, AlertEvent) error { return nil }
func (Nop) Close() error                             { return nil }

// LogNotifier writes events to a logger.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a notifier logging at warn level.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// Notify logs event.
func (n *LogNotifier) Notify(_ context.Context, event AlertEvent) error {
	n.logger.Warn("budget threshold crossed",
		zap.String("budget_id", event.BudgetID),
		zap.String("budget", event.BudgetName),
		zap.String("scope", string(event.ScopeType)+":"+event.ScopeID),
		zap.Float64("threshold", event.Threshold),
		zap.Float64("percent_used", event.PercentUsed),
		zap.Any("actions", event.Actions),
	)
	return nil
}

// Close is a no-op.
func (n *LogNotifier) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events as JSON messages keyed by budget id.
type KafkaNotifier struct {
	writer messageWriter
	logger *zap.Logger
	once   sync.Once
}

// NewKafkaNotifier creates a synchronous producer for topic.
func NewKafkaNotifier(brokers []string, topic string, logger *zap.Logger) *KafkaNotifier {
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}, logger)
}

func newKafkaNotifier(w messageWriter, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaNotifier{writer: w, logger: logger.Named("notify")}
}

// Notify publishes event.
func (n *KafkaNotifier) Notify(ctx context.Context, event AlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.BudgetID),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	n.logger.Debug("alert published", zap.String("budget_id", event.BudgetID), zap.Float64("threshold", event.Threshold))
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	var err error
	n.once.Do(func() { err = n.writer.Close() })
	return err
}

// Multi fans an event out to several notifiers and reports the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event AlertEvent) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, n := range m {
		if err := n.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
