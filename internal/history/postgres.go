package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vizzle/studio/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS tryon_history (
	id            uuid PRIMARY KEY,
	user_id       text        NOT NULL,
	kind          text        NOT NULL DEFAULT 'tryon',
	human_image   text        NOT NULL DEFAULT '',
	garment_image text        NOT NULL DEFAULT '',
	result_image  text        NOT NULL,
	garment_name  text        NOT NULL DEFAULT '',
	garment_type  text        NOT NULL DEFAULT '',
	created_at    timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tryon_history_user_created_idx ON tryon_history (user_id, created_at DESC);
`

type row struct {
	ID           uuid.UUID `db:"id"`
	UserID       string    `db:"user_id"`
	Kind         string    `db:"kind"`
	HumanImage   string    `db:"human_image"`
	GarmentImage string    `db:"garment_image"`
	ResultImage  string    `db:"result_image"`
	GarmentName  string    `db:"garment_name"`
	GarmentType  string    `db:"garment_type"`
	CreatedAt    time.Time `db:"created_at"`
}

func rowToEntry(collectableRow pgx.CollectableRow) (model.TryOnHistoryEntry, error) {
	r, err := pgx.RowToStructByName[row](collectableRow)
	if err != nil {
		return model.TryOnHistoryEntry{}, fmt.Errorf("row to history entry: %w", err)
	}
	return model.TryOnHistoryEntry{
		ID:           r.ID.String(),
		UserID:       r.UserID,
		Kind:         model.JobKind(r.Kind),
		HumanImage:   r.HumanImage,
		GarmentImage: r.GarmentImage,
		ResultImage:  r.ResultImage,
		GarmentName:  r.GarmentName,
		GarmentType:  r.GarmentType,
		Timestamp:    r.CreatedAt,
	}, nil
}

// PostgresStore keeps try-on history in Postgres
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPool opens a connection pool
func NewPostgresPool(ctx context.Context, connectionString string) (*pgxpool.Pool, error) {
	pgxConf, err := pgxpool.ParseConfig(connectionString)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxConf)
	if err != nil {
		return nil, err
	}

	return pool, nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the history table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create history schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Record(ctx context.Context, userID string, entry *model.TryOnHistoryEntry) error {
	prepare(userID, entry)
	id, err := uuid.Parse(entry.ID)
	if err != nil {
		return fmt.Errorf("invalid history id: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tryon_history (id, user_id, kind, human_image, garment_image, result_image, garment_name, garment_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		id, entry.UserID, string(entry.Kind), entry.HumanImage, entry.GarmentImage, entry.ResultImage,
		entry.GarmentName, entry.GarmentType, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// List returns the newest entries first. limit <= 0 returns everything.
func (s *PostgresStore) List(ctx context.Context, userID string, limit int) ([]model.TryOnHistoryEntry, error) {
	query := `
		SELECT id, user_id, kind, human_image, garment_image, result_image, garment_name, garment_type, created_at
		FROM tryon_history
		WHERE user_id = $1
		ORDER BY created_at DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	entries, err := pgx.CollectRows(rows, rowToEntry)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM tryon_history WHERE id = $1 AND user_id = $2`, parsed, userID)
	if err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
