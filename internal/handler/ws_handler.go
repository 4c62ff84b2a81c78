package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/assess"
	"github.com/stemsi/exstem-assessment/internal/availability"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	ws "github.com/stemsi/exstem-assessment/internal/websocket"
)

// WSHandler hosts one attempt session per WebSocket connection.
type WSHandler struct {
	attempts *service.AttemptService
	clock    clock.Clock
	loc      *time.Location
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, clk clock.Clock, loc *time.Location, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		clock:    clk,
		loc:      loc,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: ws.NewUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/student/:kind/:id/stream
// Loads the assessment, waits for "confirm", then runs the timed attempt and pushes a snapshot
// after every tick and action. Closing the socket abandons the session; the attempt stays
// resumable and the expiry sweeper seals it once its budget is gone.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	kind, ok := paramKind(c)
	if !ok {
		return
	}
	assessmentID, ok := paramID(c, "id")
	if !ok {
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("assessment_id", assessmentID.String()).
		Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	sess := assess.NewSession(
		service.NewKindBackend(h.attempts, kind, claims.UserID),
		assessmentID,
		claims.UserID,
		assess.WithClock(h.clock),
		assess.WithLocation(h.loc),
		assess.WithLogger(wsLog),
	)

	access, err := sess.Load(ctx)
	if err != nil {
		wsLog.Warn().Err(err).Msg("Session load failed")
		conn.WriteError("", sessionErrorMessage(err))
		return
	}
	conn.WriteTyped(ws.LoadedResponse{Event: ws.EventLoaded, Assessment: sess.Definition(), Access: access})

	if access.State == availability.StateNotYetOpen {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range sess.WatchAccess(ctx) {
				conn.WriteTyped(ws.AccessResponse{Event: ws.EventAccess, Access: r})
			}
		}()
	}

	wsLog.Info().Str("state", string(access.State)).Msg("Student connected")

	running := false
	for {
		var msg ws.Request
		if err := conn.Read(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
			continue
		case ws.ActionConfirm:
			if running {
				conn.WriteError(msg.Action, assess.ErrWrongPhase.Error())
				continue
			}
			if err := sess.Confirm(); err != nil {
				conn.WriteError(msg.Action, sessionErrorMessage(err))
				continue
			}
			running = true
			wg.Add(2)
			go func() {
				defer wg.Done()
				if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					wsLog.Warn().Err(err).Msg("Session ended with error")
				}
			}()
			go func() {
				defer wg.Done()
				h.forwardSnapshots(ctx, conn, sess)
			}()
			continue
		}

		if !running {
			conn.WriteError(msg.Action, assess.ErrNotInProgress.Error())
			continue
		}
		if err := h.dispatch(ctx, sess, msg); err != nil {
			conn.WriteError(msg.Action, sessionErrorMessage(err))
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, sess *assess.Session, msg ws.Request) error {
	switch msg.Action {
	case ws.ActionSelect:
		return sess.Select(ctx, msg.QuestionID, msg.OptionID)
	case ws.ActionNext:
		return sess.Next(ctx)
	case ws.ActionPrevious:
		return sess.Previous(ctx)
	case ws.ActionFinish:
		return sess.Finish(ctx)
	case ws.ActionRetry:
		return sess.Retry(ctx)
	}
	return errors.New("unknown action: " + string(msg.Action))
}

// forwardSnapshots pushes every published snapshot until the session ends. The final snapshot,
// carrying the summary, is delivered before the channel closes.
func (h *WSHandler) forwardSnapshots(ctx context.Context, conn *ws.Conn, sess *assess.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sess.Updates():
			if !ok {
				return
			}
			if err := conn.WriteTyped(ws.SnapshotResponse{Event: ws.EventSnapshot, Snapshot: snap}); err != nil {
				return
			}
		}
	}
}

// sessionErrorMessage hides transport detail from the student.
func sessionErrorMessage(err error) string {
	if assess.IsRetryable(err) {
		return "service temporarily unavailable, please retry"
	}
	return err.Error()
}
