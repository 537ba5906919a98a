package storage

import (
	"context"

	"nodesift/internal/storage/models"
)

// Storage defines the interface for run history persistence
type Storage interface {
	// Run operations
	CreateRun(ctx context.Context, run *models.Run) error
	FinishRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id int64) (*models.Run, error)
	GetRecentRuns(ctx context.Context, limit int) ([]*models.Run, error)

	// Result operations
	SaveResults(ctx context.Context, runID int64, results []*models.RunResult) error
	GetRunResults(ctx context.Context, runID int64) ([]*models.RunResult, error)

	// Close closes the storage connection
	Close() error
}
