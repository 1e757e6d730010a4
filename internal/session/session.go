// Package session carries the identity of the supervising teacher.
package session

// Session identifies the supervisor a dashboard is scoped to. The zero value
// is the absent session: nothing is subscribed on its behalf.
type Session struct {
	TeacherID string `json:"teacherID"`
	Name      string `json:"name"`
}

// New builds a session for a teacher.
func New(teacherID, name string) Session {
	return Session{TeacherID: teacherID, Name: name}
}

// Present reports whether a supervisor has been resolved.
func (s Session) Present() bool {
	return s.TeacherID != ""
}
