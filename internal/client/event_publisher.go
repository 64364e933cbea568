package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-po-approvals/internal/metrics"
	"github.com/pesio-ai/be-po-approvals/internal/service"
)

// EventPublisher publishes committed purchase-order transitions to NATS for
// the notification and reporting services.
//
// Subject convention: <prefix>.<event_type>
// Event types: order_created, approval_required, order_approved,
// order_rejected, order_completed, order_resubmitted
//
// Publish failures are logged and counted, never returned.
type EventPublisher struct {
	conn   *nats.Conn
	prefix string
	log    zerolog.Logger
}

// OrderEvent is the JSON schema published to NATS.
type OrderEvent struct {
	EventType    string                 `json:"event_type"`
	OrderID      string                 `json:"order_id"`
	ActorID      string                 `json:"actor_id"`
	Status       string                 `json:"status"`
	ChainVersion int                    `json:"chain_version"`
	DepartmentID string                 `json:"department_id,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewEventPublisher creates a publisher backed by the given NATS connection.
// A nil connection yields a publisher that drops every event.
func NewEventPublisher(conn *nats.Conn, prefix string, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{conn: conn, prefix: prefix, log: log}
}

// ConnectNATS dials the bus with reconnect settings suitable for a long-lived
// service connection.
func ConnectNATS(url, name string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats: disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats: reconnected")
		}),
	)
}

// Publish sends one event. Subject: <prefix>.<event.Type>
func (p *EventPublisher) Publish(_ context.Context, event service.Event) {
	if p.conn == nil {
		return
	}

	msg := &OrderEvent{
		EventType:    event.Type,
		OrderID:      event.OrderID,
		ActorID:      event.ActorID,
		Status:       string(event.Status),
		ChainVersion: event.ChainVersion,
		DepartmentID: event.DepartmentID,
		OccurredAt:   time.Now().UTC(),
		Payload:      event.Payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", event.Type).Msg("events: failed to marshal event")
		metrics.RecordEventPublished(event.Type, "failed")
		return
	}

	subject := p.prefix + "." + event.Type
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("order_id", event.OrderID).
			Msg("events: failed to publish NATS event (non-fatal)")
		metrics.RecordEventPublished(event.Type, "failed")
		return
	}

	metrics.RecordEventPublished(event.Type, "published")
	p.log.Debug().
		Str("subject", subject).
		Str("order_id", event.OrderID).
		Msg("events: event published")
}
