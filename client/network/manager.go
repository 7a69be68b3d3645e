package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/awalsh/terminus/pkg/messages"
	"github.com/awalsh/terminus/pkg/queue"
)

const (
	DefaultServerAddr = "ws://localhost:8888"
)

// NetworkManager represents a network manager.
type NetworkManager struct {
	serverMessageQueue queue.Queue
	wsClient           *WSClient
	wsClientErrChan    chan error
	cancelClientCtx    context.CancelFunc
	clientWaitGroup    *sync.WaitGroup
	clientID           uint32
	clientName         string
	clientIDMutex      sync.Mutex
	welcomeChan        <-chan *messages.ServerWelcome
	pongChan           <-chan *messages.ServerPong
	ping               float64
	recentRTTs         []int64
	pingMutex          sync.Mutex
}

// NewNetworkManager creates a new network manager.
func NewNetworkManager(serverAddr string, messageQueue queue.Queue) *NetworkManager {
	welcomeChan := make(chan *messages.ServerWelcome)
	pongChan := make(chan *messages.ServerPong)

	return &NetworkManager{
		serverMessageQueue: messageQueue,
		wsClient:           NewWSClient(serverAddr, messageQueue, welcomeChan, pongChan),
		wsClientErrChan:    make(chan error),
		clientWaitGroup:    &sync.WaitGroup{},
		welcomeChan:        welcomeChan,
		pongChan:           pongChan,
	}
}

// Start connects to the server, announces the display name, and waits
// for the assigned identity.
func (m *NetworkManager) Start(name string) error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelClientCtx = cancel

	if err := m.wsClient.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to connect: %v", err)
	}

	m.clientWaitGroup.Add(1)
	go func(ctx context.Context) {
		defer m.clientWaitGroup.Done()
		if err := m.wsClient.HandleMessages(ctx); err != nil {
			m.wsClientErrChan <- err
		}
	}(ctx)

	hello, err := messages.NewMessage(0, messages.MessageTypeClientHello, &messages.ClientHello{
		Name: name,
	})
	if err != nil {
		return fmt.Errorf("failed to create hello message: %v", err)
	}
	if err := m.wsClient.SendMessage(ctx, hello); err != nil {
		return fmt.Errorf("failed to send hello message: %v", err)
	}

	select {
	case err := <-m.wsClientErrChan:
		return fmt.Errorf("connection failed: %v", err)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for server welcome")
	case welcome := <-m.welcomeChan:
		m.clientIDMutex.Lock()
		m.clientID = welcome.ClientID
		m.clientName = welcome.Name
		m.clientIDMutex.Unlock()
		log.Info("Connected to server as %s with client ID %d", welcome.Name, welcome.ClientID)
	}

	go m.startPing(ctx)

	return nil
}

// startPing periodically measures round trip time to the server.
func (m *NetworkManager) startPing(ctx context.Context) {
	for {
		select {
		case <-time.After(5 * time.Second):
			if err := m.pingOnce(ctx); err != nil {
				log.Error("Failed to ping server: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *NetworkManager) pingOnce(ctx context.Context) error {
	msg, err := messages.NewMessage(m.ClientID(), messages.MessageTypeClientPing, &messages.ClientPing{
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to create ping message: %v", err)
	}
	if err := m.wsClient.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to send ping message: %v", err)
	}

	select {
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for server pong")
	case <-ctx.Done():
		return nil
	case pong := <-m.pongChan:
		rtt := time.Now().UnixMilli() - pong.ClientTimestamp
		log.Trace("Server pong, rtt: %d", rtt)

		m.pingMutex.Lock()
		// keep the last 10 RTTs to calculate an average ping
		m.recentRTTs = append(m.recentRTTs, rtt)
		for len(m.recentRTTs) > 10 {
			m.recentRTTs = m.recentRTTs[1:]
		}
		sampleRTTs := removeOutlierRTTs(m.recentRTTs)
		ping := 0.0
		for _, p := range sampleRTTs {
			ping += float64(p)
		}
		ping /= float64(len(sampleRTTs))
		m.ping = ping
		m.pingMutex.Unlock()
	}

	return nil
}

// Stop stops the network manager and clears the server message queue.
func (m *NetworkManager) Stop() error {
	if m.cancelClientCtx == nil {
		log.Warn("Network manager already stopped")
		return nil
	}
	m.cancelClientCtx()

	m.wsClient.Close()

	log.Debug("Waiting for client to stop")
	m.clientWaitGroup.Wait()
	if err := m.serverMessageQueue.ClearQueue(); err != nil {
		return fmt.Errorf("failed to clear server message queue: %v", err)
	}

	m.clientIDMutex.Lock()
	m.clientID = 0
	m.clientIDMutex.Unlock()
	m.cancelClientCtx = nil

	log.Info("Network manager stopped")

	return nil
}

func (m *NetworkManager) Ping() float64 {
	m.pingMutex.Lock()
	defer m.pingMutex.Unlock()
	return m.ping
}

func (m *NetworkManager) ServerMessageQueue() queue.Queue {
	return m.serverMessageQueue
}

func (m *NetworkManager) ErrChan() <-chan error {
	return m.wsClientErrChan
}

func (m *NetworkManager) ClientID() uint32 {
	m.clientIDMutex.Lock()
	defer m.clientIDMutex.Unlock()
	return m.clientID
}

func (m *NetworkManager) ClientName() string {
	m.clientIDMutex.Lock()
	defer m.clientIDMutex.Unlock()
	return m.clientName
}

// Send sends a message to the server with the client ID filled in.
func (m *NetworkManager) Send(msgType string, payload interface{}) error {
	msg, err := messages.NewMessage(m.ClientID(), msgType, payload)
	if err != nil {
		return fmt.Errorf("failed to create message: %v", err)
	}
	return m.wsClient.SendMessage(context.Background(), msg)
}
