package repositories

import (
	"context"

	"github.com/awalsh/terminus/pkg/repositories/models"
)

type Repository interface {
	Close(ctx context.Context) error
	UpsertProfile(ctx context.Context, name string, seenAt int64) (*models.Profile, error)
	GetProfile(ctx context.Context, name string) (*models.Profile, error)
	SaveSessionResult(ctx context.Context, result *models.SessionResult) error
	ListSessionResults(ctx context.Context, roomName string, limit int) ([]*models.SessionResult, error)
}
