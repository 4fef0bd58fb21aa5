package models

import "time"

// Note is a timestamped comment attached to an incident.
type Note struct {
	ID         int64     `db:"id" json:"id"`
	Content    string    `db:"content" json:"content"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	AuthorID   *int64    `db:"author_id" json:"author_id,omitempty"`
	IncidentID *int64    `db:"incident_id" json:"incident_id,omitempty"`
}

// AuthoredBy reports whether the note was written by the given user.
func (n *Note) AuthoredBy(userID int64) bool {
	return n != nil && n.AuthorID != nil && *n.AuthorID == userID
}
