// Package history persists deployment records and their rollback history.
package history

import (
	"context"

	"github.com/google/uuid"

	"github.com/scrawlsbenches/rollout/deploy"
)

// Store is the persistence boundary for deployments. The engine writes
// through a Store after every state transition so a restarted server can
// answer status queries for past deployments.
type Store interface {
	// Save inserts a new deployment. It fails with deploy.ErrValidation
	// if the ID is already present.
	Save(ctx context.Context, d *deploy.Deployment) error

	// Update replaces the stored record. It fails with deploy.ErrNotFound
	// if the deployment was never saved.
	Update(ctx context.Context, d *deploy.Deployment) error

	// Get returns the stored deployment or deploy.ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*deploy.Deployment, error)

	// List returns all stored deployments, newest first.
	List(ctx context.Context) ([]*deploy.Deployment, error)

	// ListByStatus returns deployments currently in the given status,
	// newest first.
	ListByStatus(ctx context.Context, status deploy.Status) ([]*deploy.Deployment, error)

	// Close releases the underlying resources.
	Close() error
}
