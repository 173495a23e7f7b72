// Package notify is the best-effort status channel between the grading
// pipeline and connected observers. It carries no persistence and no replay:
// Postgres remains the source of truth, and consumers reconstruct state from
// it on connect.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Channel is the single pub/sub topic for job status transitions.
const Channel = "grading:status"

// StatusEvent announces that a job changed status. Observers re-read the job
// row for the full payload.
type StatusEvent struct {
	JobID  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// Publisher is the producer side of the status channel.
type Publisher interface {
	PublishStatus(ctx context.Context, jobID uuid.UUID, status string) error
}

// Bus implements both sides of the channel over Redis pub/sub.
type Bus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewBus(rdb *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{rdb: rdb, logger: logger}
}

var _ Publisher = (*Bus)(nil)

// PublishStatus is fire-and-forget: a delivery failure is logged, never
// propagated, because the durable state already committed.
func (b *Bus) PublishStatus(ctx context.Context, jobID uuid.UUID, status string) error {
	payload, err := json.Marshal(StatusEvent{JobID: jobID, Status: status})
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, Channel, payload).Err(); err != nil {
		b.logger.Warn("status publish failed", "job_id", jobID, "status", status, "error", err)
	}
	return nil
}

// Subscribe returns a channel of status events plus a close func. Malformed
// payloads are dropped. The channel closes when ctx is cancelled or close is
// called.
func (b *Bus) Subscribe(ctx context.Context) (<-chan StatusEvent, func()) {
	sub := b.rdb.Subscribe(ctx, Channel)
	out := make(chan StatusEvent)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("dropping malformed status event", "error", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}
