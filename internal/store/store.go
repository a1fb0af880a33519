// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/whiteboard-tutor/internal/domain"
)

// Repository persists session snapshots and upload metadata.
type Repository interface {
	// SaveSession creates or updates a session snapshot.
	SaveSession(ctx context.Context, rec *domain.SessionRecord) error

	// GetSession retrieves a snapshot. It returns nil, nil when none exists.
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)

	// DeleteSession removes a snapshot and reports whether one existed.
	DeleteSession(ctx context.Context, sessionID string) (bool, error)

	// ExpiredSessions lists snapshots idle for longer than ttl as of now.
	ExpiredSessions(ctx context.Context, ttl time.Duration, now time.Time) ([]*domain.SessionRecord, error)

	// SaveUpload records upload metadata.
	SaveUpload(ctx context.Context, upload *domain.Upload) error

	// GetUpload retrieves upload metadata. It returns nil, nil when none exists.
	GetUpload(ctx context.Context, id string) (*domain.Upload, error)

	// DeleteSessionUploads removes the upload metadata attached to a
	// session and returns what was removed.
	DeleteSessionUploads(ctx context.Context, sessionID string) ([]*domain.Upload, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
