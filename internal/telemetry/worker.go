package telemetry

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"buddyband/internal/queue"
)

// Consume applies queued readings until ctx is done or the queue closes.
// Bad readings are logged and dropped; they are never requeued.
func Consume(ctx context.Context, q queue.Queue, svc *Service, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	msgs, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range msgs {
		if msg.Type != queue.TypeTelemetry {
			log.Warn("skipping message", zap.String("type", msg.Type))
			continue
		}
		var r Reading
		if err := msg.Decode(&r); err != nil {
			log.Warn("dropping undecodable reading", zap.Error(err))
			continue
		}
		res, err := svc.Apply(ctx, r)
		switch {
		case errors.Is(err, ErrUnknownStudent), errors.Is(err, ErrInvalidReading):
			log.Warn("reading rejected", zap.String("student_id", r.StudentID), zap.Error(err))
		case err != nil:
			log.Error("reading failed", zap.String("student_id", r.StudentID), zap.Error(err))
		default:
			log.Debug("reading applied", zap.String("student_id", r.StudentID), zap.Int("alerts", len(res.Alerts)))
		}
	}
	return ctx.Err()
}
