package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/quote-session/internal/metrics"
	"github.com/Checker-Finance/quote-session/pkg/logger"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

// Quote lifecycle subjects.
const (
	SubjectQuoteAccepted = "evt.quote.accepted.v1"
	SubjectQuoteExpired  = "evt.quote.expired.v1"
	SubjectQuoteFailed   = "evt.quote.failed.v1"
)

const envelopeVersion = "1.0.0"

// JetStream is the publishing half of nats.JetStreamContext.
type JetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher publishes canonical event envelopes to NATS JetStream.
type Publisher struct {
	js      JetStream
	service string
}

// New creates a Publisher on a connection with JetStream enabled.
func New(nc *nats.Conn, service string) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	return NewWithJetStream(js, service), nil
}

// NewWithJetStream wraps an existing JetStream context.
func NewWithJetStream(js JetStream, service string) *Publisher {
	return &Publisher{js: js, service: service}
}

// PublishEnvelope serializes and publishes an envelope on subject.
func (p *Publisher) PublishEnvelope(ctx context.Context, subject string, env *model.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		logger.S().Errorw("publisher.marshal_failed",
			"subject", subject,
			"event_type", env.EventType,
			"error", err,
		)
		return err
	}

	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"event_type":     []string{env.EventType},
			"correlation_id": []string{env.CorrelationID.String()},
			"service":        []string{p.service},
			"content_type":   []string{"application/json"},
			"account_id":     []string{env.AccountID},
			// JetStream dedupes on message id within the stream's duplicate window.
			nats.MsgIdHdr: []string{env.ID.String()},
		},
	}

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		logger.S().Errorw("publisher.publish_failed",
			"subject", subject,
			"event_type", env.EventType,
			"account_id", env.AccountID,
			"error", err,
		)
		metrics.IncNATSPublishError(subject)
		return err
	}

	logger.S().Debugw("publisher.publish_success",
		"subject", subject,
		"event_type", env.EventType,
		"account_id", env.AccountID,
	)
	return nil
}

// PublishQuoteEvent wraps a lifecycle event in an envelope and publishes it.
// correlationID ties every event of one session together.
func (p *Publisher) PublishQuoteEvent(ctx context.Context, subject, eventType string, correlationID string, ev model.QuoteEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	env := &model.Envelope{
		ID:            model.NewUUID(),
		CorrelationID: correlationUUID(correlationID),
		AccountID:     ev.AccountID,
		SessionID:     ev.SessionID,
		Topic:         subject,
		EventType:     eventType,
		Version:       envelopeVersion,
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}
	return p.PublishEnvelope(ctx, subject, env)
}

// correlationUUID uses id directly when it is a uuid, otherwise derives a
// stable one from it.
func correlationUUID(id string) uuid.UUID {
	if u, err := uuid.Parse(id); err == nil {
		return u
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
}
