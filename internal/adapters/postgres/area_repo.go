package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/AzyAli/map3d/internal/core/domain"
	"github.com/AzyAli/map3d/internal/core/ports"
)

// AreaRepo implements ports.AreaRepository with pgx. Footprints are stored
// as a jsonb document next to the indexed corner columns.
type AreaRepo struct {
	db *DB
}

// NewAreaRepo creates a new AreaRepo.
func NewAreaRepo(db *DB) *AreaRepo {
	return &AreaRepo{db: db}
}

// Save inserts or replaces the session's selection.
func (r *AreaRepo) Save(ctx context.Context, sessionID string, a *domain.Area) error {
	footprints, err := json.Marshal(a.Footprints)
	if err != nil {
		return fmt.Errorf("marshal footprints: %w", err)
	}
	b := a.Bounds()
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO areas (session_id, area_key, south, west, north, east, space_id, footprints, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE
		SET area_key = EXCLUDED.area_key,
		    south = EXCLUDED.south, west = EXCLUDED.west,
		    north = EXCLUDED.north, east = EXCLUDED.east,
		    space_id = EXCLUDED.space_id,
		    footprints = EXCLUDED.footprints,
		    updated_at = EXCLUDED.updated_at
	`, sessionID, a.Key(), b.South, b.West, b.North, b.East, a.SpaceID, footprints, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save area %s: %w", sessionID, err)
	}
	return nil
}

// Get returns the session's selection or ports.ErrNotFound.
func (r *AreaRepo) Get(ctx context.Context, sessionID string) (*domain.Area, error) {
	var (
		a          domain.Area
		footprints []byte
	)
	err := r.db.Pool.QueryRow(ctx, `
		SELECT south, west, north, east, COALESCE(space_id, ''), footprints, updated_at
		FROM areas WHERE session_id = $1
	`, sessionID).Scan(
		&a.Corners[0].Lat, &a.Corners[0].Lng,
		&a.Corners[1].Lat, &a.Corners[1].Lng,
		&a.SpaceID, &footprints, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get area %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(footprints, &a.Footprints); err != nil {
		return nil, fmt.Errorf("decode footprints: %w", err)
	}
	return &a, nil
}

// Delete removes the session's selection.
func (r *AreaRepo) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM areas WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete area %s: %w", sessionID, err)
	}
	return nil
}
