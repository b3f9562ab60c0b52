// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"options-risk-engine/internal/models"
)

// DataStore defines the interface for data persistence. Hedge records,
// P&L snapshots and breaches are append-only; positions are upserted on
// every lifecycle transition.
type DataStore interface {
	// Positions
	SavePosition(ctx context.Context, pos models.Position) error
	GetPosition(ctx context.Context, id string) (models.Position, error)
	GetPositions(ctx context.Context, filter PositionFilter) ([]models.Position, error)

	// Hedges
	SaveHedge(ctx context.Context, h models.HedgeRecord) error
	GetHedges(ctx context.Context, filter HedgeFilter) ([]models.HedgeRecord, error)

	// P&L snapshots
	SaveSnapshot(ctx context.Context, s models.PnLSnapshot) error
	GetSnapshots(ctx context.Context, filter SnapshotFilter) ([]models.PnLSnapshot, error)

	// Risk breaches
	SaveBreaches(ctx context.Context, at time.Time, breaches []models.Breach) error
	GetBreaches(ctx context.Context, filter BreachFilter) ([]BreachRecord, error)

	// Lifecycle
	Close() error
}

// PositionFilter represents filters for querying positions.
type PositionFilter struct {
	Symbol string
	Status models.PositionStatus
	Limit  int
}

// HedgeFilter represents filters for querying hedge records.
type HedgeFilter struct {
	PositionID string
	Since      time.Time
	Limit      int
}

// SnapshotFilter represents filters for querying P&L snapshots. A nil
// PositionID returns every snapshot; a pointer to "" returns only
// portfolio-level snapshots.
type SnapshotFilter struct {
	PositionID *string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// BreachFilter represents filters for querying recorded breaches.
type BreachFilter struct {
	LimitName string
	Since     time.Time
	Limit     int
}

// BreachRecord is a persisted breach.
type BreachRecord struct {
	ID        int64
	Timestamp time.Time
	models.Breach
}
