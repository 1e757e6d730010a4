package dashboard

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"buddyband/internal/remote"
)

// Writer issues partial record writes against the remote store.
type Writer interface {
	Write(ctx context.Context, recordPath string, fields map[string]any) error
}

// WriteError reports a rejected actuation command.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Gateway issues actuation commands. It never changes local state: the
// effect of a command shows up only in the next snapshot.
type Gateway struct {
	w       Writer
	log     *zap.Logger
	timeout time.Duration
}

// NewGateway creates a gateway writing through w.
func NewGateway(w Writer, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{w: w, log: log, timeout: 10 * time.Second}
}

// ToggleBuzzer writes the negation of current to the student's buzzer flag.
// It returns immediately; the outcome arrives on the returned channel,
// nil on success or a *WriteError. The write is not cancelled when ctx is,
// only bounded by the gateway timeout, and it is never retried.
func (g *Gateway) ToggleBuzzer(ctx context.Context, studentID string, current bool) <-chan error {
	out := make(chan error, 1)
	path := remote.Path(remote.Students, studentID)
	fields := map[string]any{FieldBuzzer: !current}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	go func() {
		defer cancel()
		defer close(out)
		if err := g.w.Write(wctx, path, fields); err != nil {
			g.log.Warn("buzzer toggle rejected", zap.String("student_id", studentID), zap.Error(err))
			out <- &WriteError{Path: path, Err: err}
			return
		}
		g.log.Info("buzzer toggle issued", zap.String("student_id", studentID), zap.Bool("buzzer_on", !current))
		out <- nil
	}()
	return out
}
