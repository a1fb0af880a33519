package domain

import (
	"time"
)

// SessionRecord is the persisted snapshot of a tutoring session.
type SessionRecord struct {
	SessionID    string
	StatsJSON    string
	GraphJSON    string
	LastActivity time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TTL returns the time until the session expires, or 0 if it already has.
func (r *SessionRecord) TTL(sessionDuration time.Duration, now time.Time) time.Duration {
	ttl := r.LastActivity.Add(sessionDuration).Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Upload is metadata for a file a learner attached to a session.
type Upload struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id,omitempty"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Path        string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
