package dashboard

import (
	"reflect"
	"testing"

	"buddyband/internal/remote"
)

func snapshotOf(collection string, docs ...string) remote.Snapshot {
	snap := remote.Snapshot{Collection: collection}
	for i := 0; i+1 < len(docs); i += 2 {
		snap.Records = append(snap.Records, remote.Record{Key: docs[i], Data: []byte(docs[i+1])})
	}
	return snap
}

func TestDecodeStudentsUsesRecordKey(t *testing.T) {
	snap := snapshotOf(remote.Students,
		"a", `{"id":"ignored","teacherID":"t1","name":"A","SosOn":true,"Battery":87.6}`,
		"b", `not json`,
		"c", `{"teacherID":"t1","name":"C","location":{"latitude":1.5,"longitude":2.5}}`,
	)
	students, bad := DecodeStudents(snap)
	if len(students) != 2 {
		t.Fatalf("decoded %d students, want 2", len(students))
	}
	if students[0].ID != "a" || students[1].ID != "c" {
		t.Errorf("ids = %q, %q", students[0].ID, students[1].ID)
	}
	if students[0].Battery == nil || *students[0].Battery != 88 {
		t.Errorf("battery = %v, want 88", students[0].Battery)
	}
	if students[1].Location == nil || students[1].Location.Latitude != 1.5 {
		t.Errorf("location = %+v", students[1].Location)
	}
	if len(bad) != 1 || bad[0] != "b" {
		t.Errorf("bad = %v, want [b]", bad)
	}
}

func TestDecodeStudentsKeepsRecordWithBadField(t *testing.T) {
	snap := snapshotOf(remote.Students,
		"a", `{"teacherID":"t1","name":"Ann","SosOn":true,"Battery":"85"}`,
		"b", `{"teacherID":"t1","name":"Bea","Battery":1e400,"BuzzerON":true}`,
		"c", `{"teacherID":"t1","name":"Cid","location":{"latitude":"north","longitude":2},"Battery":40}`,
		"d", `{"teacherID":"t1","name":"Dov","location":null,"Battery":null}`,
	)
	students, bad := DecodeStudents(snap)
	if len(students) != 4 {
		t.Fatalf("decoded %d students, want 4 (bad=%v)", len(students), bad)
	}
	a, b, c, d := students[0], students[1], students[2], students[3]
	if a.ID != "a" || a.TeacherID != "t1" || a.Name != "Ann" || !a.SosOn || a.Battery != nil {
		t.Errorf("a = %+v", a)
	}
	if b.Battery != nil || !b.BuzzerOn {
		t.Errorf("b = %+v", b)
	}
	if c.Location != nil || c.Battery == nil || *c.Battery != 40 {
		t.Errorf("c = %+v", c)
	}
	if d.Location != nil || d.Battery != nil {
		t.Errorf("d = %+v", d)
	}
	want := []string{"a.Battery", "b.Battery", "c.location"}
	if !reflect.DeepEqual(bad, want) {
		t.Errorf("bad = %v, want %v", bad, want)
	}

	scoped := ScopeStudents(students, "t1")
	if got := AttentionRequired(scoped, OutOfRangeFlag); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("attention = %v, want [a]", idsOf(got, studentKey))
	}
}

func TestDecodeAlerts(t *testing.T) {
	snap := snapshotOf(remote.Alerts,
		"1", `{"teacherID":"t1","studentID":"a","type":"SOS","timestamp":5}`,
		"2", `{"teacherID":"t1","studentID":"b","type":"low-battery","timestamp":"2024-05-01T10:00:00Z"}`,
	)
	alerts, bad := DecodeAlerts(snap)
	if len(bad) != 0 || len(alerts) != 2 {
		t.Fatalf("alerts=%d bad=%v", len(alerts), bad)
	}
	if alerts[0].ID != "1" || alerts[0].Timestamp.Compare(NumberTimestamp(5)) != 0 {
		t.Errorf("alert 1 = %+v", alerts[0])
	}
	if alerts[1].Timestamp.String() != "2024-05-01T10:00:00Z" {
		t.Errorf("alert 2 timestamp = %q", alerts[1].Timestamp.String())
	}
}

func TestScopeStudents(t *testing.T) {
	students := []Student{
		{ID: "a", TeacherID: "t1", Name: "A"},
		{ID: "b", TeacherID: "t2", Name: "B"},
		{ID: "c", TeacherID: "t1", Name: "C"},
		{ID: "d", TeacherID: "", Name: "D"},
	}

	tests := []struct {
		name    string
		in      []Student
		teacher string
		want    []string
	}{
		{name: "keeps order", in: students, teacher: "t1", want: []string{"a", "c"}},
		{name: "other teacher", in: students, teacher: "t2", want: []string{"b"}},
		{name: "no match", in: students, teacher: "t9", want: []string{}},
		{name: "nil snapshot", in: nil, teacher: "t1", want: []string{}},
		{name: "absent supervisor", in: students, teacher: "", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScopeStudents(tt.in, tt.teacher)
			if got == nil {
				t.Fatal("result must not be nil")
			}
			ids := make([]string, 0, len(got))
			for _, s := range got {
				ids = append(ids, s.ID)
			}
			if !reflect.DeepEqual(ids, tt.want) {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestScopeIsStable(t *testing.T) {
	battery := 50
	students := []Student{
		{ID: "a", TeacherID: "t1", Location: &Location{Latitude: 1, Longitude: 2}, Battery: &battery},
		{ID: "b", TeacherID: "t1"},
	}
	first := ScopeStudents(students, "t1")
	second := ScopeStudents(students, "t1")
	if !reflect.DeepEqual(first, second) {
		t.Error("identical inputs produced different outputs")
	}
}

func TestScopeAlerts(t *testing.T) {
	alerts := []Alert{
		{ID: "1", TeacherID: "t1"},
		{ID: "2", TeacherID: "t2"},
	}
	got := ScopeAlerts(alerts, "t1")
	if len(got) != 1 || got[0].ID != "1" {
		t.Errorf("got %+v", got)
	}
	if got := ScopeAlerts(nil, "t1"); got == nil || len(got) != 0 {
		t.Errorf("nil input: got %#v", got)
	}
}

// TestScopeThenAttention covers the end-to-end scoping scenario.
func TestScopeThenAttention(t *testing.T) {
	snap := snapshotOf(remote.Students,
		"a", `{"teacherID":"t1","name":"A","SosOn":true}`,
		"b", `{"teacherID":"t2","name":"B","SosOn":false}`,
	)
	all, _ := DecodeStudents(snap)
	got := AttentionRequired(ScopeStudents(all, "t1"), OutOfRangeFlag)
	want := []Student{{ID: "a", TeacherID: "t1", Name: "A", SosOn: true}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
