package session

import (
	"time"

	"github.com/awalsh/terminus/pkg/log"
	"github.com/google/uuid"
)

const (
	// KickNotifyRetries is how many times the kick notice is attempted
	// when the local send keeps failing
	KickNotifyRetries = 3
	// KickNotifyBackoff is the wait before a failed notice send is retried
	KickNotifyBackoff = 500 * time.Millisecond
	// KickVoluntaryWait is how long the target gets to leave on its own
	KickVoluntaryWait = 4 * time.Second
	// KickCloseWait is how long to wait after a server-side close
	KickCloseWait = 1 * time.Second
	// KickForceLeaveWait is how long to wait after a forced leave call
	KickForceLeaveWait = 1500 * time.Millisecond
	// KickDropLinkWait is how long to wait after a link drop call
	KickDropLinkWait = 2 * time.Second
)

// KickStage is a stage of the removal escalation.
type KickStage int

const (
	KickStageNotify KickStage = iota
	KickStageAwaitVoluntary
	KickStageCloseConnection
	KickStageForceLeave
	KickStageDropLink
	KickStageDone
)

func (s KickStage) String() string {
	switch s {
	case KickStageNotify:
		return "notify"
	case KickStageAwaitVoluntary:
		return "await voluntary leave"
	case KickStageCloseConnection:
		return "close connection"
	case KickStageForceLeave:
		return "force leave"
	case KickStageDropLink:
		return "drop link"
	case KickStageDone:
		return "done"
	default:
		return "unknown"
	}
}

// KickRequest tracks one target through the escalation. Requests are
// keyed by target, so repeated kick calls for the same actor reuse the
// existing request.
type KickRequest struct {
	ID             string
	TargetActor    int
	Stage          KickStage
	Succeeded      bool
	notifyAttempts int
	nextActionAt   time.Time
}

// kickActions is what the escalation needs from the surrounding session.
type kickActions interface {
	sendKickNotice(targetActor int, requestID string) error
	sendCloseConnection(targetActor int) error
	sendForceLeave(targetActor int, requestID string) error
	sendDropLink(targetActor int, requestID string) error
	actorPresent(targetActor int) bool
}

// KickEngine escalates the removal of room occupants: a notice, retried
// only while the local send fails, a window for a voluntary leave, then
// progressively harder server and peer level disconnects.
type KickEngine struct {
	actions    kickActions
	clock      Clock
	requests   map[int]*KickRequest
	onFinished func(request *KickRequest)
}

func newKickEngine(actions kickActions, clock Clock) *KickEngine {
	return &KickEngine{
		actions:  actions,
		clock:    clock,
		requests: make(map[int]*KickRequest),
	}
}

// Begin starts the escalation for a target. Calling it again while a
// request is active returns the existing request.
func (e *KickEngine) Begin(targetActor int) *KickRequest {
	if request, ok := e.requests[targetActor]; ok && request.Stage != KickStageDone {
		return request
	}

	request := &KickRequest{
		ID:           uuid.NewString(),
		TargetActor:  targetActor,
		Stage:        KickStageNotify,
		nextActionAt: e.clock.Now(),
	}
	e.requests[targetActor] = request
	log.Info("Starting removal of actor %d", targetActor)
	return request
}

// Request returns the request for a target, if any.
func (e *KickEngine) Request(targetActor int) (*KickRequest, bool) {
	request, ok := e.requests[targetActor]
	return request, ok
}

// Active returns the in-flight request, if any. Only one removal runs
// at a time.
func (e *KickEngine) Active() (*KickRequest, bool) {
	for _, request := range e.requests {
		if request.Stage != KickStageDone {
			return request, true
		}
	}
	return nil, false
}

// Step advances every active request. Call it from the client's main loop.
func (e *KickEngine) Step() {
	now := e.clock.Now()
	for _, request := range e.requests {
		e.step(request, now)
	}
}

func (e *KickEngine) step(request *KickRequest, now time.Time) {
	if request.Stage == KickStageDone {
		return
	}

	// the target leaving at any stage finishes the request
	if request.Stage != KickStageNotify && !e.actions.actorPresent(request.TargetActor) {
		e.finish(request, true)
		return
	}

	if now.Before(request.nextActionAt) {
		return
	}

	switch request.Stage {
	case KickStageNotify:
		if !e.actions.actorPresent(request.TargetActor) {
			e.finish(request, true)
			return
		}
		request.notifyAttempts++
		if err := e.actions.sendKickNotice(request.TargetActor, request.ID); err != nil {
			log.Error("Failed to send kick notice to actor %d: %v", request.TargetActor, err)
			if request.notifyAttempts < KickNotifyRetries {
				request.nextActionAt = now.Add(KickNotifyBackoff)
				return
			}
			log.Warn("Giving up on notifying actor %d, escalating anyway", request.TargetActor)
		}
		request.Stage = KickStageAwaitVoluntary
		request.nextActionAt = now.Add(KickVoluntaryWait)
	case KickStageAwaitVoluntary:
		log.Warn("Actor %d did not leave voluntarily, closing its connection", request.TargetActor)
		if err := e.actions.sendCloseConnection(request.TargetActor); err != nil {
			log.Error("Failed to close connection of actor %d: %v", request.TargetActor, err)
		}
		request.Stage = KickStageCloseConnection
		request.nextActionAt = now.Add(KickCloseWait)
	case KickStageCloseConnection:
		log.Warn("Actor %d survived the connection close, forcing a leave", request.TargetActor)
		if err := e.actions.sendForceLeave(request.TargetActor, request.ID); err != nil {
			log.Error("Failed to force leave of actor %d: %v", request.TargetActor, err)
		}
		request.Stage = KickStageForceLeave
		request.nextActionAt = now.Add(KickForceLeaveWait)
	case KickStageForceLeave:
		log.Warn("Actor %d ignored the forced leave, dropping its link", request.TargetActor)
		if err := e.actions.sendDropLink(request.TargetActor, request.ID); err != nil {
			log.Error("Failed to drop link of actor %d: %v", request.TargetActor, err)
		}
		request.Stage = KickStageDropLink
		request.nextActionAt = now.Add(KickDropLinkWait)
	case KickStageDropLink:
		e.finish(request, false)
	}
}

func (e *KickEngine) finish(request *KickRequest, succeeded bool) {
	request.Stage = KickStageDone
	request.Succeeded = succeeded
	if succeeded {
		log.Info("Actor %d removed", request.TargetActor)
	} else {
		log.Error("Failed to remove actor %d", request.TargetActor)
	}
	if e.onFinished != nil {
		e.onFinished(request)
	}
}
