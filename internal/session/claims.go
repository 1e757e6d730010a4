package session

import "buddyband/internal/auth"

// FromClaims resolves the supervisor from verified token claims. Tokens
// that do not belong to a teacher yield the absent session.
func FromClaims(c auth.Claims) Session {
	if c.Role != auth.RoleTeacher {
		return Session{}
	}
	return New(c.Subject, c.Name)
}
