package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix prefixes every mission subject.
const DefaultSubjectPrefix = "gantry.missions"

// NATSSink publishes events to NATS on subjects
// {prefix}.{mission_id}.{status}.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	owned  bool
}

// ConnectNATS dials url and returns a sink that owns the connection.
func ConnectNATS(url, prefix string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("gantry"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	s := NewNATSSink(nc, prefix)
	s.owned = true
	return s, nil
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(nc *nats.Conn, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: nc, prefix: strings.TrimSuffix(prefix, ".")}
}

// Subject returns the subject an event is published on.
func (s *NATSSink) Subject(missionID, status string) string {
	return fmt.Sprintf("%s.%s.%s", s.prefix, missionID, strings.ToLower(status))
}

// MissionSubject returns the wildcard subject of every event of a mission.
func (s *NATSSink) MissionSubject(missionID string) string {
	return fmt.Sprintf("%s.%s.*", s.prefix, missionID)
}

// Broadcast publishes ev. Delivery is at-most-once.
func (s *NATSSink) Broadcast(_ context.Context, missionID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.conn.Publish(s.Subject(missionID, ev.Status), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Status, err)
	}
	return nil
}

// Close drains the connection if the sink dialed it.
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.conn.Drain()
}

var _ Sink = (*NATSSink)(nil)
