// Package queue implements the write-through publishing side channel
// C5 fires into: a per-organization, ordered NATS JetStream subject so
// that admissions for the same person_id reach the durable store in the
// order they were admitted (spec §4.5/§5's ordering guarantee), without
// Store itself knowing anything about NATS. Adapted from the teacher's
// internal/queue (same nats.Connect/jetstream.New dial pattern and
// stream-bootstrap retry loop), retargeted at one ATTENDANCE stream of
// attendance.* subjects instead of the teacher's FRAMES/EVENTS pair.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/fd-attendance/internal/attendance"
)

const (
	AttendanceStreamName  = "ATTENDANCE"
	AttendanceSubjectBase = "attendance"
)

// Producer publishes admitted attendance events. It implements
// attendance.EventPublisher so internal/attendance never imports this
// package directly (DESIGN.md's "write-through publishing is abstracted
// behind the EventPublisher interface").
type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStream creates the ATTENDANCE stream if it doesn't exist yet.
// Retries up to 30 times (1s apart) to absorb NATS startup delay, same
// shape as the teacher's EnsureStreams.
func (p *Producer) EnsureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        AttendanceStreamName,
		Subjects:    []string{AttendanceSubjectBase + ".>"},
		Retention:   jetstream.InterestPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     5_000_000,
		Storage:     jetstream.FileStorage,
		Description: "Write-through attendance events, one ordered subject per organization",
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// attendanceMessage is the wire shape published for one admitted event.
type attendanceMessage struct {
	Org      string  `json:"org"`
	ID       int     `json:"id"`
	Label    string  `json:"label"`
	PersonID *string `json:"person_id,omitempty"`
	Score    float64 `json:"score"`
	Ts       string  `json:"ts"`
}

// PublishAttendanceEvent satisfies attendance.EventPublisher. It
// publishes on subject "attendance.<org>" — a single ordered subject per
// organization — so a single durable consumer per org sees admissions in
// admit order, which is exactly the guarantee spec §4.5/§5 require for a
// single person_id (a stronger per-org order implies it).
func (p *Producer) PublishAttendanceEvent(ctx context.Context, org string, ev attendance.Event) error {
	msg := attendanceMessage{Org: org, ID: ev.ID, Label: ev.Label, PersonID: ev.PersonID, Score: ev.Score, Ts: ev.Ts.Format(time.RFC3339)}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal attendance event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", AttendanceSubjectBase, org)
	_, err = p.js.Publish(ctx, subject, payload, jetstream.WithMsgID(fmt.Sprintf("%s-%d", org, ev.ID)))
	if err != nil {
		return fmt.Errorf("publish attendance event: %w", err)
	}
	return nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
