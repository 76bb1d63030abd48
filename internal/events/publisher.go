// Package events publishes best-effort session lifecycle notifications to
// NATS, adapted from api/internal/events/publisher.go's graceful-degrade
// pattern: an unconfigured or unreachable NATS server yields a disabled
// Publisher rather than a startup failure.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/streamspace/sealskin/internal/logger"
)

const subject = "sealskin.session.events"

// Event is the JSON payload published for every lifecycle transition.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	TS        int64  `json:"ts"`
}

// Publisher is a best-effort NATS event sink. A nil *Publisher and a
// disabled Publisher both behave as pure no-ops.
type Publisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	enabled bool
}

// NewPublisher connects to url. An empty url or a failed connection yields
// a disabled Publisher with a logged warning, never an error.
func NewPublisher(url string) *Publisher {
	if url == "" {
		logger.Broker().Info().Msg("NATS_URL not configured, session events disabled")
		return &Publisher{enabled: false}
	}

	conn, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Broker().Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Broker().Info().Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Broker().Warn().Err(err).Msg("NATS async error")
		}),
	)
	if err != nil {
		logger.Broker().Warn().Err(err).Msg("failed to connect to NATS, session events disabled")
		return &Publisher{enabled: false}
	}

	js, err := conn.JetStream()
	if err != nil {
		logger.Broker().Warn().Err(err).Msg("JetStream unavailable, falling back to core NATS")
		return &Publisher{conn: conn, enabled: true}
	}
	return &Publisher{conn: conn, js: js, enabled: true}
}

// Publish emits ev on the session-events subject, best-effort. Failures are
// logged and swallowed; no component depends on delivery.
func (p *Publisher) Publish(ev Event) {
	if p == nil || !p.enabled {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if p.js != nil {
		if _, err := p.js.Publish(subject, body); err != nil {
			logger.Broker().Debug().Err(err).Msg("jetstream publish failed")
		}
		return
	}
	if err := p.conn.Publish(subject, body); err != nil {
		logger.Broker().Debug().Err(err).Msg("nats publish failed")
	}
}

// Close releases the underlying connection, if any.
func (p *Publisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}
