package domain

// Principal is the authenticated identity attached to a session.
// It is immutable once resolved and lives as long as the session that
// resolved it.
type Principal struct {
	ID       int64
	Username string
}
