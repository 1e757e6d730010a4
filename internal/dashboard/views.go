package dashboard

import (
	"cmp"
	"slices"
)

// OutOfRange decides whether a student is outside the allowed area. It is
// supplied by the caller; nothing here derives it from location data.
type OutOfRange func(Student) bool

// OutOfRangeFlag reads the outOfRange field devices report.
func OutOfRangeFlag(s Student) bool { return s.OutOfRange }

// AttentionRequired returns the students with SOS active or out of range,
// keeping input order. A nil predicate never reports out of range.
func AttentionRequired(students []Student, outOfRange OutOfRange) []Student {
	out := make([]Student, 0)
	for _, s := range students {
		if s.SosOn || (outOfRange != nil && outOfRange(s)) {
			out = append(out, s)
		}
	}
	return out
}

// AlertFeed returns a copy of alerts ordered newest first. Equal
// timestamps are ordered by alert ID so the feed is stable across renders.
func AlertFeed(alerts []Alert) []Alert {
	out := slices.Clone(alerts)
	if out == nil {
		out = make([]Alert, 0)
	}
	slices.SortStableFunc(out, func(a, b Alert) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Index looks students up by ID. Build it once per snapshot.
type Index struct {
	byID map[string]int
	list []Student
}

// NewIndex indexes students. On duplicate IDs the first one wins.
func NewIndex(students []Student) Index {
	idx := Index{byID: make(map[string]int, len(students)), list: students}
	for i, s := range students {
		if _, ok := idx.byID[s.ID]; !ok {
			idx.byID[s.ID] = i
		}
	}
	return idx
}

// Lookup returns the student with id.
func (x Index) Lookup(id string) (Student, bool) {
	i, ok := x.byID[id]
	if !ok {
		return Student{}, false
	}
	return x.list[i], true
}

// Len returns the number of indexed students.
func (x Index) Len() int { return len(x.byID) }

// FeedItem is an alert with the name of the student it refers to. Resolved
// is false when the student is unknown, which happens when alerts and
// students arrive out of order.
type FeedItem struct {
	Alert
	StudentName string `json:"studentName,omitempty"`
	Resolved    bool   `json:"resolved"`
}

// EnrichAlerts attaches student names to feed entries without reordering.
func EnrichAlerts(feed []Alert, idx Index) []FeedItem {
	out := make([]FeedItem, 0, len(feed))
	for _, a := range feed {
		item := FeedItem{Alert: a}
		if s, ok := idx.Lookup(a.StudentID); ok {
			item.StudentName = s.Name
			item.Resolved = true
		}
		out = append(out, item)
	}
	return out
}

// Marker kinds.
const (
	MarkerSOS = "SOS"
	MarkerOK  = "OK"
)

// Marker is a student drawn on the map.
type Marker struct {
	StudentID string `json:"studentID"`
	Name      string `json:"name"`
	Grade     string `json:"grade"`
	Position  LatLng `json:"position"`
	Kind      string `json:"kind"`
	Battery   *int   `json:"battery,omitempty"`
}

// Markers returns a marker for every located student. Students without a
// fix stay in the tables but are not drawn.
func Markers(students []Student) []Marker {
	out := make([]Marker, 0, len(students))
	for _, s := range students {
		if s.Location == nil {
			continue
		}
		kind := MarkerOK
		if s.SosOn {
			kind = MarkerSOS
		}
		out = append(out, Marker{
			StudentID: s.ID,
			Name:      s.Name,
			Grade:     s.Grade,
			Position:  s.Location.LatLng(),
			Kind:      kind,
			Battery:   s.Battery,
		})
	}
	return out
}
