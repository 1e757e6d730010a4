// Package dashboard derives the live supervision view from the students and
// alerts collections: scoping to one supervisor, the attention list, the
// alert feed, the map focal point and buzzer actuation.
package dashboard

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Wire field names written by this package.
const (
	FieldBuzzer = "BuzzerON"
)

// Alert kinds raised by the telemetry worker. Other values are accepted.
const (
	AlertSOS        = "SOS"
	AlertLowBattery = "low-battery"
	AlertOutOfRange = "out-of-range"
)

// Location is a device fix.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LatLng converts the fix to a map coordinate.
func (l Location) LatLng() LatLng {
	return LatLng{Lat: l.Latitude, Lng: l.Longitude}
}

// Student is one wearable carrier as stored under students/{id}.
type Student struct {
	ID         string    `json:"id"`
	TeacherID  string    `json:"teacherID"`
	Name       string    `json:"name"`
	Grade      string    `json:"grade"`
	Location   *Location `json:"location,omitempty"`
	SosOn      bool      `json:"SosOn"`
	BuzzerOn   bool      `json:"BuzzerON"`
	Battery    *int      `json:"Battery,omitempty"`
	OutOfRange bool      `json:"outOfRange,omitempty"`
}

// UnmarshalJSON decodes field by field. A field of the wrong type is left
// at its zero value rather than failing the document, and a fractional
// battery reading is rounded. Only input that is not a JSON object is an
// error.
func (s *Student) UnmarshalJSON(b []byte) error {
	_, err := s.decode(b)
	return err
}

// decode returns the wire names of the fields it ignored.
func (s *Student) decode(b []byte) (skipped []string, err error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}
	*s = Student{}
	take := func(name string, dst any) bool {
		raw, ok := lookupField(fields, name)
		if !ok {
			return false
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			skipped = append(skipped, name)
			return false
		}
		return true
	}
	take("id", &s.ID)
	take("teacherID", &s.TeacherID)
	take("name", &s.Name)
	take("grade", &s.Grade)
	take("SosOn", &s.SosOn)
	take(FieldBuzzer, &s.BuzzerOn)
	take("outOfRange", &s.OutOfRange)

	var loc Location
	if take("location", &loc) {
		s.Location = &loc
	}
	var battery float64
	if take("Battery", &battery) {
		if battery < math.MinInt32 || battery > math.MaxInt32 {
			skipped = append(skipped, "Battery")
		} else {
			v := int(math.Round(battery))
			s.Battery = &v
		}
	}
	return skipped, nil
}

// lookupField matches keys the way encoding/json does: exact first, then
// case-insensitively. A null value counts as absent.
func lookupField(fields map[string]json.RawMessage, name string) (json.RawMessage, bool) {
	raw, ok := fields[name]
	if !ok {
		for k, v := range fields {
			if strings.EqualFold(k, name) {
				raw, ok = v, true
				break
			}
		}
	}
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// Located reports whether the student has a fix and can be drawn on a map.
func (s Student) Located() bool { return s.Location != nil }

// Alert is an entry under alerts/{id}. Alerts are never mutated.
type Alert struct {
	ID        string    `json:"id"`
	TeacherID string    `json:"teacherID"`
	StudentID string    `json:"studentID"`
	Type      string    `json:"type"`
	Timestamp Timestamp `json:"timestamp"`
}

type tsKind uint8

const (
	tsNone tsKind = iota
	tsNumber
	tsString
)

// Timestamp is an opaque, sortable clock value. Numbers order numerically,
// strings lexicographically, and numbers sort before strings. A missing
// timestamp is the oldest value.
type Timestamp struct {
	kind tsKind
	num  float64
	str  string
	raw  string
}

// NumberTimestamp builds a numeric timestamp, e.g. epoch milliseconds.
func NumberTimestamp(v float64) Timestamp {
	return Timestamp{kind: tsNumber, num: v, raw: strconv.FormatFloat(v, 'f', -1, 64)}
}

// StringTimestamp builds a string timestamp, e.g. RFC 3339.
func StringTimestamp(v string) Timestamp {
	raw, _ := json.Marshal(v)
	return Timestamp{kind: tsString, str: v, raw: string(raw)}
}

// IsZero reports whether the timestamp is missing.
func (t Timestamp) IsZero() bool { return t.kind == tsNone }

// Compare returns -1, 0 or +1.
func (t Timestamp) Compare(o Timestamp) int {
	if t.kind != o.kind {
		if t.kind < o.kind {
			return -1
		}
		return 1
	}
	switch t.kind {
	case tsNumber:
		switch {
		case t.num < o.num:
			return -1
		case t.num > o.num:
			return 1
		}
	case tsString:
		return strings.Compare(t.str, o.str)
	}
	return 0
}

// String returns the value as received.
func (t Timestamp) String() string {
	if t.kind == tsString {
		return t.str
	}
	return t.raw
}

// MarshalJSON writes the value back as received.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.kind == tsNone {
		return []byte("null"), nil
	}
	return []byte(t.raw), nil
}

// UnmarshalJSON reads a number or a string. Other JSON values are kept as
// their raw text and ordered as strings.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = Timestamp{}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Timestamp{kind: tsString, str: s, raw: string(b)}
	default:
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			*t = Timestamp{kind: tsNumber, num: f, raw: string(b)}
			return nil
		}
		raw, _ := json.Marshal(string(b))
		*t = Timestamp{kind: tsString, str: string(b), raw: string(raw)}
	}
	return nil
}
