package repositories

import (
	"context"
	"fmt"

	"github.com/awalsh/terminus/pkg/repositories/models"
	"github.com/jackc/pgx/v5"
)

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository creates a new PostgresRepository.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (Repository, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	if err := conn.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database); err != nil {
		return nil, fmt.Errorf("unable to query database: %v", err)
	}

	return &PostgresRepository{
		conn: conn,
	}, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) UpsertProfile(ctx context.Context, name string, seenAt int64) (*models.Profile, error) {
	q := `
	INSERT INTO profiles (name, created_at, last_seen_at) VALUES ($1, $2, $3)
	ON CONFLICT (name) DO UPDATE SET last_seen_at = $3;
	`
	if _, err := r.conn.Exec(ctx, q, name, seenAt, seenAt); err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %v", err)
	}

	return r.GetProfile(ctx, name)
}

func (r *PostgresRepository) GetProfile(ctx context.Context, name string) (*models.Profile, error) {
	q := `
	SELECT name, created_at, last_seen_at FROM profiles WHERE name = $1;
	`
	profile := &models.Profile{}
	if err := r.conn.QueryRow(ctx, q, name).Scan(&profile.Name, &profile.CreatedAt, &profile.LastSeenAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, &ErrNotFound{}
		}
		return nil, fmt.Errorf("failed to scan profile: %v", err)
	}

	return profile, nil
}

func (r *PostgresRepository) SaveSessionResult(ctx context.Context, result *models.SessionResult) error {
	q := `
	INSERT INTO session_results (room_name, outcome, stations_cleared, player_count, finished_at)
	VALUES ($1, $2, $3, $4, $5);
	`
	_, err := r.conn.Exec(ctx, q, result.RoomName, result.Outcome, result.StationsCleared, result.PlayerCount, result.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session result: %v", err)
	}

	return nil
}

func (r *PostgresRepository) ListSessionResults(ctx context.Context, roomName string, limit int) ([]*models.SessionResult, error) {
	q := `
	SELECT id, room_name, outcome, stations_cleared, player_count, finished_at
	FROM session_results WHERE room_name = $1
	ORDER BY finished_at DESC LIMIT $2;
	`
	rows, err := r.conn.Query(ctx, q, roomName, limit)
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
