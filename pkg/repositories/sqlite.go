package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awalsh/terminus/pkg/repositories/models"
	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(ctx context.Context, path string, migrations string) (Repository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	dir, err := os.ReadDir(migrations)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %v", err)
	}

	for _, entry := range dir {
		if entry.IsDir() {
			continue
		}

		migrationPath := filepath.Join(migrations, entry.Name())
		migration, err := os.ReadFile(migrationPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %v", migrationPath, err)
		}

		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			return nil, fmt.Errorf("failed to execute migration %s: %v", migrationPath, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) UpsertProfile(ctx context.Context, name string, seenAt int64) (*models.Profile, error) {
	q := `
	INSERT INTO profiles (name, created_at, last_seen_at)
	VALUES (?, ?, ?)
	ON CONFLICT (name) DO UPDATE SET last_seen_at = excluded.last_seen_at;
	`
	if _, err := r.db.ExecContext(ctx, q, name, seenAt, seenAt); err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %v", err)
	}

	return r.GetProfile(ctx, name)
}

func (r *SQLiteRepository) GetProfile(ctx context.Context, name string) (*models.Profile, error) {
	q := `
	SELECT name, created_at, last_seen_at FROM profiles WHERE name = ?;
	`
	profile := &models.Profile{}
	if err := r.db.QueryRowContext(ctx, q, name).Scan(&profile.Name, &profile.CreatedAt, &profile.LastSeenAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan profile: %v", err)
	}

	return profile, nil
}

func (r *SQLiteRepository) SaveSessionResult(ctx context.Context, result *models.SessionResult) error {
	q := `
	INSERT INTO session_results (room_name, outcome, stations_cleared, player_count, finished_at)
	VALUES (?, ?, ?, ?, ?);
	`
	_, err := r.db.ExecContext(ctx, q, result.RoomName, result.Outcome, result.StationsCleared, result.PlayerCount, result.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session result: %v", err)
	}

	return nil
}

func (r *SQLiteRepository) ListSessionResults(ctx context.Context, roomName string, limit int) ([]*models.SessionResult, error) {
	q := `
	SELECT id, room_name, outcome, stations_cleared, player_count, finished_at
	FROM session_results WHERE room_name = ?
	ORDER BY finished_at DESC LIMIT ?;
	`
	rows, err := r.db.QueryContext(ctx, q, roomName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session results: %v", err)
	}
	defer rows.Close()

	var results []*models.SessionResult
	for rows.Next() {
		result := &models.SessionResult{}
		if err := rows.Scan(&result.ID, &result.RoomName, &result.Outcome, &result.StationsCleared, &result.PlayerCount, &result.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session result: %v", err)
		}
		results = append(results, result)
	}

	return results, nil
}
