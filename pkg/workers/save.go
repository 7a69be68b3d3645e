package workers

import (
	"context"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/repositories"
	"github.com/awalsh/terminus/pkg/repositories/models"
)

type SaveSessionResultWorker struct {
	repository     repositories.Repository
	saveResultChan <-chan SaveSessionResultRequest
}

type NewSaveSessionResultWorkerOptions struct {
	Repository     repositories.Repository
	SaveResultChan <-chan SaveSessionResultRequest
}

type SaveSessionResultRequest struct {
	Result *models.SessionResult
}

// NewSaveSessionResultWorker creates a new SaveSessionResultWorker.
// The worker persists session results reported by the relay loop
// so saving does not block the loop.
func NewSaveSessionResultWorker(opts NewSaveSessionResultWorkerOptions) *SaveSessionResultWorker {
	return &SaveSessionResultWorker{
		repository:     opts.Repository,
		saveResultChan: opts.SaveResultChan,
	}
}

func (w *SaveSessionResultWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case saveRequest := <-w.saveResultChan:
			if err := w.repository.SaveSessionResult(ctx, saveRequest.Result); err != nil {
				log.Error("Failed to save session result: %v", err)
			}
		}
	}
}
