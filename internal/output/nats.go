package output

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"tap-reputation-poller/internal/reputation"
)

// Header names set on published records.
const (
	HeaderTrustLevel = "Trust-Level"
	HeaderSHA256     = "Sha256"
)

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSSink publishes each record as JSON on a subject.
type NATSSink struct {
	pub     Publisher
	subject string
}

// NewNATSSink publishes on subject through pub.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

// Emit publishes rec. The message id lets JetStream streams drop duplicates.
func (s *NATSSink) Emit(_ context.Context, rec reputation.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	hdr := nats.Header{}
	hdr.Set(HeaderTrustLevel, strconv.Itoa(int(rec.TrustLevel)))
	hdr.Set(HeaderSHA256, rec.Hashes.SHA256)
	hdr.Set(nats.MsgIdHdr, rec.Hashes.SHA256+":"+strconv.Itoa(int(rec.TrustLevel)))

	msg := &nats.Msg{Subject: s.subject, Data: data, Header: hdr}
	if err := s.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish record to %s: %w", s.subject, err)
	}
	return nil
}

// ConnectNATS dials url with reconnect handling logged through logger.
func ConnectNATS(url, name string, logger zerolog.Logger) (*nats.Conn, error) {
	log := logger.With().Str("component", "nats").Logger()
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

var _ reputation.Sink = (*NATSSink)(nil)
