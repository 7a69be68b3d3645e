package workers

import (
	"context"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/network"
	"github.com/awalsh/terminus/pkg/queue"
	relaytypes "github.com/awalsh/terminus/pkg/relay/types"
)

type ConnectionEventWorker struct {
	clientEventChan  <-chan network.ClientEvent
	serverEventQueue queue.Queue
}

type NewConnectionEventWorkerOptions struct {
	ClientEventChan  <-chan network.ClientEvent
	ServerEventQueue queue.Queue
}

// NewConnectionEventWorker creates a new ConnectionEventWorker.
// The worker processes client events like connect and disconnect
// and writes server events to a queue for the relay loop to process.
func NewConnectionEventWorker(opts NewConnectionEventWorkerOptions) *ConnectionEventWorker {
	return &ConnectionEventWorker{
		clientEventChan:  opts.ClientEventChan,
		serverEventQueue: opts.ServerEventQueue,
	}
}

func (w *ConnectionEventWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.clientEventChan:
			switch event.Type {
			case network.ClientEventTypeConnect:
				if err := w.serverEventQueue.Enqueue(&relaytypes.ConnectClientEvent{
					ClientID: event.ClientID,
				}); err != nil {
					log.Error("Failed to enqueue connect client event: %v", err)
				}
			case network.ClientEventTypeDisconnect:
				if err := w.serverEventQueue.Enqueue(&relaytypes.DisconnectClientEvent{
					ClientID: event.ClientID,
				}); err != nil {
					log.Error("Failed to enqueue disconnect client event: %v", err)
				}
			default:
				log.Error("Unknown client event type: %v", event.Type)
			}
		}
	}
}
