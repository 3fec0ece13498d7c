// Package kafka publishes incident lifecycle events and vulnerability
// alerts. Publishing is optional plumbing: the pipeline persists everything
// itself, and a broker outage only costs downstream notifications.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/roadwatch/incident-etl/internal/domain"
)

// Writer is the subset of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes lifecycle events to one topic and alerts to another.
// Messages are keyed by incident identity so each incident's events stay
// ordered within a partition.
type Publisher struct {
	writer         Writer
	lifecycleTopic string
	alertTopic     string
	logger         *slog.Logger
}

func NewPublisher(brokers []string, lifecycleTopic, alertTopic string, logger *slog.Logger) *Publisher {
	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Balancer:     &kafkago.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafkago.RequireOne,
	}
	return &Publisher{
		writer:         writer,
		lifecycleTopic: lifecycleTopic,
		alertTopic:     alertTopic,
		logger:         logger,
	}
}

// LifecycleEvent is the wire shape of one accepted transition.
type LifecycleEvent struct {
	Source     string            `json:"source"`
	ExternalID string            `json:"external_id"`
	Transition domain.Transition `json:"transition"`
	Version    int               `json:"version"`
	Incident   domain.Incident   `json:"incident"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// AlertEvent is the wire shape of one high or critical assessment.
type AlertEvent struct {
	Source     string                    `json:"source"`
	ExternalID string                    `json:"external_id"`
	Score      domain.VulnerabilityScore `json:"score"`
	Incident   domain.Incident           `json:"incident"`
}

// PublishTransitions writes one batch of lifecycle events.
func (p *Publisher) PublishTransitions(ctx context.Context, entries []domain.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, 0, len(entries))
	for _, entry := range entries {
		event := LifecycleEvent{
			Source:     entry.Source,
			ExternalID: entry.ExternalID,
			Transition: entry.Transition,
			Version:    entry.Version,
			Incident:   entry.Snapshot,
			RecordedAt: entry.RecordedAt,
		}
		msg, err := p.message(p.lifecycleTopic, entry.Source, entry.ExternalID, string(entry.Transition), event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("writing lifecycle events: %w", err)
	}
	p.logger.Debug("published lifecycle events", "count", len(msgs))
	return nil
}

// PublishAlert writes one vulnerability alert.
func (p *Publisher) PublishAlert(ctx context.Context, score domain.VulnerabilityScore, inc domain.Incident) error {
	event := AlertEvent{
		Source:     score.Source,
		ExternalID: score.ExternalID,
		Score:      score,
		Incident:   inc,
	}
	msg, err := p.message(p.alertTopic, score.Source, score.ExternalID, string(score.RiskLevel), event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing alert: %w", err)
	}
	return nil
}

func (p *Publisher) message(topic, source, externalID, kind string, event any) (kafkago.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encoding event for %s/%s: %w", source, externalID, err)
	}
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(source + ":" + externalID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(source)},
			{Key: "kind", Value: []byte(kind)},
		},
	}, nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
