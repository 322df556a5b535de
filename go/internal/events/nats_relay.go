package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher is the part of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSRelayConfig holds configuration for the NATS relay.
type NATSRelayConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSRelayConfig returns default relay configuration.
func DefaultNATSRelayConfig() NATSRelayConfig {
	return NATSRelayConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "duelsync",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// RelayEnvelope is the JSON body published for every relayed event.
type RelayEnvelope struct {
	Kind      Kind            `json:"kind"`
	Tag       string          `json:"tag,omitempty"`
	Success   *bool           `json:"success,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NATSRelay republishes dispatcher events so other local processes can follow them.
type NATSRelay struct {
	publisher Publisher
	prefix    string
	nc        *nats.Conn
	now       func() time.Time
}

// NewNATSRelay connects to NATS using config.
func NewNATSRelay(config NATSRelayConfig) (*NATSRelay, error) {
	opts := []nats.Option{
		nats.Name("duelsync-relay"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	relay := NewRelay(nc, config.SubjectPrefix)
	relay.nc = nc
	return relay, nil
}

// NewRelay builds a relay over an existing publisher.
func NewRelay(publisher Publisher, prefix string) *NATSRelay {
	return &NATSRelay{
		publisher: publisher,
		prefix:    prefix,
		now:       time.Now,
	}
}

// Attach registers the relay's observers on d.
func (r *NATSRelay) Attach(d *Dispatcher) {
	d.OnSync(r.relaySync)
	d.OnDuel(r.relayDuel)
	log.Info().Str("subject_prefix", r.prefix).Msg("NATS relay attached")
}

func (r *NATSRelay) SyncSubject() string {
	return r.prefix + ".sync"
}

func (r *NATSRelay) DuelSubject(tag string) string {
	return fmt.Sprintf("%s.duel.%s", r.prefix, tag)
}

func (r *NATSRelay) relaySync(success bool) error {
	return r.publish(r.SyncSubject(), RelayEnvelope{
		Kind:      KindSync,
		Success:   &success,
		Timestamp: r.now(),
	})
}

func (r *NATSRelay) relayDuel(tag string, payload json.RawMessage) error {
	return r.publish(r.DuelSubject(tag), RelayEnvelope{
		Kind:      KindDuel,
		Tag:       tag,
		Payload:   payload,
		Timestamp: r.now(),
	})
}

func (r *NATSRelay) publish(subject string, envelope RelayEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal relay envelope: %w", err)
	}
	if err := r.publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the NATS connection when the relay owns one.
func (r *NATSRelay) Close() {
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			log.Warn().Err(err).Msg("NATS drain failed")
		}
	}
}
