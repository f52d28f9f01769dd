package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/fd-attendance/internal/roster"
)

// LogRefreshNotifier hints connected sessions to re-fetch the event log
// after a write-through persist lands, per spec §6's log_refresh event.
type LogRefreshNotifier interface {
	BroadcastLogRefresh()
}

// Consumer durably drains the ATTENDANCE stream and persists each
// message to roster.Repository, one subject ("attendance.<org>") at a
// time so admissions land in C3 in the order Store admitted them —
// the actual mechanism behind spec §4.5/§5's per-person_id ordering
// guarantee that internal/attendance.Store's fire-and-forget publish
// only sets up. Adapted from the teacher's Consumer (same durable
// AckExplicit fetch-loop shape as ConsumeEvents), retargeted at one
// filter subject per organization instead of one global events subject.
type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
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

	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeOrg starts a single-goroutine durable consumer for one
// organization's subject. A single goroutine (not a worker pool) is
// deliberate: it is what makes "persist in admit order" true without
// needing per-message sequence numbers.
func (c *Consumer) ConsumeOrg(ctx context.Context, org string, repo roster.Repository, notify LogRefreshNotifier) error {
	stream, err := c.js.Stream(ctx, AttendanceStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", AttendanceStreamName, err)
	}

	consumerName := "writer-" + org
	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		FilterSubject: fmt.Sprintf("%s.%s", AttendanceSubjectBase, org),
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				if err := c.persist(ctx, repo, msg); err != nil {
					slog.Error("persist attendance event failed", "org", org, "error", err)
					_ = msg.Nak()
					continue
				}
				_ = msg.Ack()
				if notify != nil {
					notify.BroadcastLogRefresh()
				}
			}
		}
	}()

	slog.Info("attendance write-through consumer started", "org", org)
	return nil
}

func (c *Consumer) persist(ctx context.Context, repo roster.Repository, msg jetstream.Msg) error {
	var m attendanceMessage
	if err := json.Unmarshal(msg.Data(), &m); err != nil {
		return fmt.Errorf("unmarshal attendance message: %w", err)
	}
	ts := time.Time{}
	if parsed, err := time.Parse(time.RFC3339, m.Ts); err == nil {
		ts = parsed
	}
	_, err := repo.InsertEvent(ctx, m.Org, m.Label, m.Score, &ts, m.PersonID)
	return err
}

func (c *Consumer) Close() {
	c.nc.Close()
}
