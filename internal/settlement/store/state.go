package store

import (
	"context"
	"database/sql"
	"errors"
)

const indexerStateID = "default"

// StateRepo persiste o watermark do indexer
type StateRepo struct{ db *sql.DB }

func NewStateRepo(db *sql.DB) *StateRepo { return &StateRepo{db: db} }

// LastHeight devolve a última altura processada (0 se nunca rodou).
func (r *StateRepo) LastHeight(ctx context.Context) (int64, error) {
	var h int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_height FROM indexer_state WHERE id=$1`, indexerStateID).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return h, err
}

// SetLastHeight avança o watermark. Nunca volta atrás: altura menor que a
// atual é ignorada.
func (r *StateRepo) SetLastHeight(ctx context.Context, height int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO indexer_state (id, last_height, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (id) DO UPDATE SET
			last_height = GREATEST(indexer_state.last_height, EXCLUDED.last_height),
			updated_at  = now()`,
		indexerStateID, height)
	return err
}
