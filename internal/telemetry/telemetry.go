// Package telemetry turns device readings into student record updates and
// alerts.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"buddyband/internal/dashboard"
	"buddyband/internal/metrics"
	"buddyband/internal/remote"
)

var (
	// ErrUnknownStudent is returned for readings from a device whose
	// student has no record.
	ErrUnknownStudent = errors.New("telemetry: unknown student")

	// ErrInvalidReading wraps validation failures.
	ErrInvalidReading = errors.New("telemetry: invalid reading")
)

// Reading is one device report. Nil fields were not reported and leave the
// stored value untouched.
type Reading struct {
	StudentID  string    `json:"studentID" msgpack:"student_id" validate:"required,excludes=/"`
	Latitude   *float64  `json:"latitude,omitempty" msgpack:"lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude  *float64  `json:"longitude,omitempty" msgpack:"lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Battery    *int      `json:"battery,omitempty" msgpack:"battery,omitempty" validate:"omitempty,gte=0,lte=100"`
	Sos        *bool     `json:"sos,omitempty" msgpack:"sos,omitempty"`
	OutOfRange *bool     `json:"outOfRange,omitempty" msgpack:"out_of_range,omitempty"`
	At         time.Time `json:"at" msgpack:"at"`
}

// Store reads and writes records by path.
type Store interface {
	Get(ctx context.Context, recordPath string) (json.RawMessage, bool, error)
	Write(ctx context.Context, recordPath string, fields map[string]any) error
}

// Result describes what a reading changed.
type Result struct {
	Fields map[string]any
	Alerts []dashboard.Alert
}

// Option configures a Service.
type Option func(*Service)

// WithLowBattery sets the battery percentage below which a low-battery
// alert is raised.
func WithLowBattery(percent int) Option {
	return func(s *Service) { s.lowBattery = percent }
}

// Service applies readings to the store.
type Service struct {
	store      Store
	log        *zap.Logger
	validate   *validator.Validate
	lowBattery int
	newID      func() string
	now        func() time.Time
}

// NewService creates a Service writing through store.
func NewService(store Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:      store,
		log:        log,
		validate:   newValidator(),
		lowBattery: 20,
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate checks a reading without applying it.
func (s *Service) Validate(r Reading) error {
	if err := s.validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	return nil
}

// Apply writes the reported fields to the student's record and raises an
// alert for every condition that turned on with this reading: SOS pressed,
// battery dropping below the threshold, leaving the allowed area.
func (s *Service) Apply(ctx context.Context, r Reading) (Result, error) {
	if err := s.Validate(r); err != nil {
		metrics.Telemetry.WithLabelValues(metrics.OutcomeRejected).Inc()
		return Result{}, err
	}
	if r.At.IsZero() {
		r.At = s.now()
	}
	path := remote.Path(remote.Students, r.StudentID)

	raw, ok, err := s.store.Get(ctx, path)
	if err != nil {
		metrics.Telemetry.WithLabelValues(metrics.OutcomeFailed).Inc()
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !ok {
		metrics.Telemetry.WithLabelValues(metrics.OutcomeRejected).Inc()
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownStudent, r.StudentID)
	}
	var current dashboard.Student
	if err := json.Unmarshal(raw, &current); err != nil {
		metrics.Telemetry.WithLabelValues(metrics.OutcomeFailed).Inc()
		return Result{}, fmt.Errorf("decode %s: %w", path, err)
	}

	res := Result{Fields: fields(r)}
	if err := s.store.Write(ctx, path, res.Fields); err != nil {
		metrics.Telemetry.WithLabelValues(metrics.OutcomeFailed).Inc()
		return Result{}, err
	}

	for _, kind := range s.risingEdges(current, r) {
		if current.TeacherID == "" {
			s.log.Warn("student has no supervisor, alert not raised",
				zap.String("student_id", r.StudentID), zap.String("type", kind))
			continue
		}
		a := dashboard.Alert{
			ID:        s.newID(),
			TeacherID: current.TeacherID,
			StudentID: r.StudentID,
			Type:      kind,
			Timestamp: dashboard.NumberTimestamp(float64(r.At.UnixMilli())),
		}
		if err := s.store.Write(ctx, remote.Path(remote.Alerts, a.ID), alertFields(a, r.At)); err != nil {
			metrics.Telemetry.WithLabelValues(metrics.OutcomeFailed).Inc()
			return res, fmt.Errorf("raise %s alert: %w", kind, err)
		}
		metrics.Alerts.WithLabelValues(kind).Inc()
		s.log.Info("alert raised", zap.String("alert_id", a.ID), zap.String("student_id", a.StudentID), zap.String("type", kind))
		res.Alerts = append(res.Alerts, a)
	}
	metrics.Telemetry.WithLabelValues(metrics.OutcomeOK).Inc()
	return res, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		r := sl.Current().Interface().(Reading)
		if (r.Latitude == nil) != (r.Longitude == nil) {
			sl.ReportError(r.Latitude, "Latitude", "latitude", "latlng_pair", "")
		}
	}, Reading{})
	return v
}

func (s *Service) risingEdges(cur dashboard.Student, r Reading) []string {
	var kinds []string
	if r.Sos != nil && *r.Sos && !cur.SosOn {
		kinds = append(kinds, dashboard.AlertSOS)
	}
	if r.Battery != nil && *r.Battery < s.lowBattery && (cur.Battery == nil || *cur.Battery >= s.lowBattery) {
		kinds = append(kinds, dashboard.AlertLowBattery)
	}
	if r.OutOfRange != nil && *r.OutOfRange && !cur.OutOfRange {
		kinds = append(kinds, dashboard.AlertOutOfRange)
	}
	return kinds
}

func fields(r Reading) map[string]any {
	f := map[string]any{"lastSeen": r.At.UnixMilli()}
	if r.Latitude != nil && r.Longitude != nil {
		f["location"] = map[string]any{"latitude": *r.Latitude, "longitude": *r.Longitude}
	}
	if r.Battery != nil {
		f["Battery"] = *r.Battery
	}
	if r.Sos != nil {
		f["SosOn"] = *r.Sos
	}
	if r.OutOfRange != nil {
		f["outOfRange"] = *r.OutOfRange
	}
	return f
}

func alertFields(a dashboard.Alert, at time.Time) map[string]any {
	return map[string]any{
		"teacherID": a.TeacherID,
		"studentID": a.StudentID,
		"type":      a.Type,
		"timestamp": at.UnixMilli(),
	}
}
