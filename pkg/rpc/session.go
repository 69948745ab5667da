package rpc

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/voiceci/voiceci/pkg/events"
	"github.com/voiceci/voiceci/pkg/session"
)

// sessionState is the per-session lifecycle state machine (§4.8):
// initializing -> open -> closing -> closed.
type sessionState string

const (
	stateInitializing sessionState = "initializing"
	stateOpen         sessionState = "open"
	stateClosing      sessionState = "closing"
	stateClosed       sessionState = "closed"
)

// sessionLifecycle tracks sessionState alongside the process-local
// session.Session the Manager owns, since Session itself carries only
// adapter-config/progress-token bindings, not protocol state.
type sessionLifecycle struct {
	state sessionState
}

// Sessions wires C8's session state machine to pkg/session.Manager and
// pkg/events.Manager's push stream.
type Sessions struct {
	manager    *session.Manager
	push       *events.Manager
	lifecycles map[string]*sessionLifecycle
}

func NewSessions(manager *session.Manager, push *events.Manager) *Sessions {
	return &Sessions{manager: manager, push: push, lifecycles: make(map[string]*sessionLifecycle)}
}

// Initialize starts a new session, in the "initializing" state until its
// push stream attaches (transition to "open" happens in HandlePushStream).
// Any request other than this one without a session id present is invalid
// per §4.8.
func (s *Sessions) Initialize() *session.Session {
	sess := s.manager.Create()
	s.lifecycles[sess.ID] = &sessionLifecycle{state: stateInitializing}
	return sess
}

// Close transitions a session closing -> closed and discards its bindings
// (§4.8: "the run continues and is retrievable via get_status").
func (s *Sessions) Close(sessionID string) {
	if lc, ok := s.lifecycles[sessionID]; ok {
		lc.state = stateClosing
	}
	s.push.Unregister(sessionID)
	s.manager.Destroy(sessionID)
	delete(s.lifecycles, sessionID)
}

// BindRun records that sessionID submitted runID, so C11's callback can
// find the session to push a result event to (§4.11).
func (s *Sessions) BindRun(sessionID string, runID uuid.UUID) {
	s.manager.BindRun(sessionID, runID)
}

// Require resolves a session id to its live Session, translating a missing
// session into a validation-kind RPC error (§4.8: any non-initialize
// request without a session id is invalid).
func (s *Sessions) Require(sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, NewError(KindValidation, "missing session id; call initialize first")
	}
	sess, ok := s.manager.Get(sessionID)
	if !ok {
		return nil, NewError(KindValidation, "unknown or expired session id")
	}
	return sess, nil
}

// HandlePushStream upgrades a GET to a websocket and registers it as
// sessionID's single server-push stream, carrying progress and result
// events until the client disconnects (§4.8).
func (s *Sessions) HandlePushStream(c *gin.Context) {
	sessionID := c.Query("session_id")
	if _, err := s.Require(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": toWire(err)})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	if lc, ok := s.lifecycles[sessionID]; ok {
		lc.state = stateOpen
	}
	connection := s.push.Register(sessionID, conn)
	defer func() {
		if lc, ok := s.lifecycles[sessionID]; ok {
			lc.state = stateClosing
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	// The stream is push-only; block reading control frames until the
	// client closes it or Register's cancel fires on reconnect.
	readCtx := conn.CloseRead(c.Request.Context())
	select {
	case <-connection.Done():
	case <-readCtx.Done():
	}
}
