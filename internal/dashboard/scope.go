package dashboard

import (
	"encoding/json"

	"buddyband/internal/remote"
)

// DecodeStudents turns a raw snapshot into students keyed by record key,
// in snapshot order. A record that is not a JSON object is skipped and
// reported in bad by its key. A record with a mistyped field is kept
// without that field and reported as "key.field".
func DecodeStudents(snap remote.Snapshot) (students []Student, bad []string) {
	students = make([]Student, 0, len(snap.Records))
	for _, r := range snap.Records {
		var s Student
		skipped, err := s.decode(r.Data)
		if err != nil {
			bad = append(bad, r.Key)
			continue
		}
		for _, f := range skipped {
			bad = append(bad, r.Key+"."+f)
		}
		s.ID = r.Key
		students = append(students, s)
	}
	return students, bad
}

// DecodeAlerts turns a raw snapshot into alerts keyed by record key.
func DecodeAlerts(snap remote.Snapshot) (alerts []Alert, bad []string) {
	alerts = make([]Alert, 0, len(snap.Records))
	for _, r := range snap.Records {
		var a Alert
		if err := json.Unmarshal(r.Data, &a); err != nil {
			bad = append(bad, r.Key)
			continue
		}
		a.ID = r.Key
		alerts = append(alerts, a)
	}
	return alerts, bad
}

// ScopeStudents returns the students supervised by teacherID, in input
// order. The result is never nil, and empty for an empty teacherID.
func ScopeStudents(students []Student, teacherID string) []Student {
	return scope(students, teacherID, func(s Student) string { return s.TeacherID })
}

// ScopeAlerts returns the alerts addressed to teacherID, in input order.
func ScopeAlerts(alerts []Alert, teacherID string) []Alert {
	return scope(alerts, teacherID, func(a Alert) string { return a.TeacherID })
}

func scope[T any](records []T, teacherID string, owner func(T) string) []T {
	out := make([]T, 0)
	if teacherID == "" {
		return out
	}
	for _, r := range records {
		if owner(r) == teacherID {
			out = append(out, r)
		}
	}
	return out
}
