package dashboard

import (
	"reflect"
	"testing"
)

func idsOf[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, id(it))
	}
	return out
}

func studentKey(s Student) string { return s.ID }
func alertKey(a Alert) string { return a.ID }

func TestAttentionRequiredPreservesOrder(t *testing.T) {
	students := []Student{
		{ID: "a", SosOn: true},
		{ID: "b"},
		{ID: "c", OutOfRange: true},
		{ID: "d", SosOn: true, OutOfRange: true},
		{ID: "e"},
	}
	got := idsOf(AttentionRequired(students, OutOfRangeFlag), studentKey)
	want := []string{"a", "c", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAttentionRequiredInjectedPredicate(t *testing.T) {
	students := []Student{{ID: "a"}, {ID: "b"}, {ID: "c", SosOn: true}}
	far := func(s Student) bool { return s.ID == "b" }

	got := idsOf(AttentionRequired(students, far), studentKey)
	if !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("got %v", got)
	}

	got = idsOf(AttentionRequired(students, nil), studentKey)
	if !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("nil predicate: got %v", got)
	}
}

func TestAttentionRequiredExcludesCalmStudents(t *testing.T) {
	students := []Student{{ID: "a", OutOfRange: true}}
	never := func(Student) bool { return false }
	if got := AttentionRequired(students, never); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
}

func TestAlertFeedOrdering(t *testing.T) {
	alerts := []Alert{
		{ID: "b", Timestamp: NumberTimestamp(5)},
		{ID: "a", Timestamp: NumberTimestamp(5)},
		{ID: "c", Timestamp: NumberTimestamp(9)},
		{ID: "d"},
		{ID: "e", Timestamp: NumberTimestamp(1)},
	}
	got := idsOf(AlertFeed(alerts), alertKey)
	want := []string{"c", "a", "b", "e", "d"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Input is not reordered in place.
	if alerts[0].ID != "b" {
		t.Error("AlertFeed mutated its input")
	}
}

func TestAlertFeedDeterministic(t *testing.T) {
	a := []Alert{{ID: "x", Timestamp: NumberTimestamp(1)}, {ID: "y", Timestamp: NumberTimestamp(1)}}
	b := []Alert{{ID: "y", Timestamp: NumberTimestamp(1)}, {ID: "x", Timestamp: NumberTimestamp(1)}}
	if !reflect.DeepEqual(AlertFeed(a), AlertFeed(b)) {
		t.Error("feed depends on input order for equal timestamps")
	}
	if got := AlertFeed(nil); got == nil || len(got) != 0 {
		t.Errorf("nil input: %#v", got)
	}
}

func TestIndexLookup(t *testing.T) {
	idx := NewIndex([]Student{{ID: "a", Name: "first"}, {ID: "b"}, {ID: "a", Name: "dup"}})
	if idx.Len() != 2 {
		t.Errorf("Len = %d, want 2", idx.Len())
	}
	s, ok := idx.Lookup("a")
	if !ok || s.Name != "first" {
		t.Errorf("Lookup(a) = %+v, %v", s, ok)
	}
	if _, ok := idx.Lookup("missing"); ok {
		t.Error("Lookup(missing) found a student")
	}
	if _, ok := NewIndex(nil).Lookup("a"); ok {
		t.Error("empty index found a student")
	}
}

func TestEnrichAlertsToleratesDanglingReferences(t *testing.T) {
	idx := NewIndex([]Student{{ID: "a", Name: "Ann"}})
	feed := []Alert{{ID: "1", StudentID: "missing"}, {ID: "2", StudentID: "a"}}
	got := EnrichAlerts(feed, idx)
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Resolved || got[0].StudentName != "" {
		t.Errorf("dangling alert enriched: %+v", got[0])
	}
	if !got[1].Resolved || got[1].StudentName != "Ann" {
		t.Errorf("resolved alert = %+v", got[1])
	}
}

func TestMarkersSkipUnlocated(t *testing.T) {
	students := []Student{
		{ID: "a", Location: &Location{Latitude: 1, Longitude: 2}},
		{ID: "b"},
		{ID: "c", SosOn: true, Location: &Location{Latitude: 3, Longitude: 4}},
	}
	got := Markers(students)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Kind != MarkerOK || got[1].Kind != MarkerSOS {
		t.Errorf("kinds = %s, %s", got[0].Kind, got[1].Kind)
	}
	if got[1].Position != (LatLng{Lat: 3, Lng: 4}) {
		t.Errorf("position = %+v", got[1].Position)
	}
}
