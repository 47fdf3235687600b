// README: Websocket endpoint running one dispatch session per connection.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"ridecore/internal/http/middleware"
	"ridecore/internal/session"
	"ridecore/internal/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// safeConn serialises writes; gorilla/websocket allows one concurrent writer.
type safeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *safeConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(v)
}

func (c *safeConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// clientMessage is one action sent by the client.
type clientMessage struct {
	Action  string       `json:"action"`
	OrderID types.ID     `json:"order_id,omitempty"`
	Online  bool         `json:"online,omitempty"`
	Pickup  *types.Point `json:"pickup,omitempty"`
	Dropoff *types.Point `json:"dropoff,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	Lat     float64      `json:"lat,omitempty"`
	Lng     float64      `json:"lng,omitempty"`
}

type serverMessage struct {
	Type       string              `json:"type"`
	Action     string              `json:"action,omitempty"`
	OK         bool                `json:"ok,omitempty"`
	Error      string              `json:"error,omitempty"`
	Result     any                 `json:"result,omitempty"`
	Snapshot   *session.Snapshot   `json:"snapshot,omitempty"`
	Suggestion *session.Suggestion `json:"suggestion,omitempty"`
}

type SessionHandler struct {
	deps session.Deps
	cfg  session.Config
	log  logrus.FieldLogger
}

// NewSessionHandler builds sessions from deps; each connection gets its own
// client-driven location source.
func NewSessionHandler(deps session.Deps, cfg session.Config, log logrus.FieldLogger) *SessionHandler {
	return &SessionHandler{deps: deps, cfg: cfg, log: log.WithField("component", "ws")}
}

func (h *SessionHandler) Serve(c *gin.Context) {
	id := middleware.Identity(c)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("upgrade")
		return
	}
	conn := &safeConn{ws: ws}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	loc := &session.StaticLocation{}
	deps := h.deps
	deps.Location = loc
	sess := session.New(id, deps, h.cfg)
	if err := sess.Start(ctx); err != nil {
		_ = conn.writeJSON(serverMessage{Type: "error", Error: err.Error()})
		return
	}
	defer sess.Stop()

	log := h.log.WithFields(logrus.Fields{"user_id": id.UserID, "role": id.Role})
	log.Info("client connected")
	defer log.Info("client disconnected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writeLoop(ctx, conn, sess)
	}()

	ws.SetReadLimit(64 << 10)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = conn.writeJSON(serverMessage{Type: "result", Error: "invalid json"})
			continue
		}
		res, err := h.dispatch(ctx, sess, loc, msg)
		out := serverMessage{Type: "result", Action: msg.Action, OK: err == nil, Result: res}
		if err != nil {
			out.Error = err.Error()
		}
		if err := conn.writeJSON(out); err != nil {
			break
		}
	}
	cancel()
	wg.Wait()
}

// writeLoop pushes a snapshot after every session change, plus any pending
// tracking suggestion.
func (h *SessionHandler) writeLoop(ctx context.Context, conn *safeConn, sess *session.Session) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	push := func() error {
		snap := sess.Snapshot()
		if err := conn.writeJSON(serverMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
			return err
		}
		if sg := sess.TakeSuggestion(); sg != nil {
			return conn.writeJSON(serverMessage{Type: "suggestion", Suggestion: sg})
		}
		return nil
	}
	if err := push(); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Updates():
			if err := push(); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func (h *SessionHandler) dispatch(ctx context.Context, sess *session.Session, loc *session.StaticLocation, msg clientMessage) (any, error) {
	switch msg.Action {
	case "refresh":
		sess.Refresh(ctx)
		return nil, nil
	case "location":
		p := types.Point{Lat: msg.Lat, Lng: msg.Lng}
		if !p.Valid() {
			return nil, errInvalidLocation
		}
		loc.Set(p)
		sess.Refresh(ctx)
		return nil, nil
	case "create_order":
		if msg.Pickup == nil {
			return nil, errMissingPickup
		}
		return sess.CreateOrder(ctx, *msg.Pickup, msg.Dropoff)
	case "toggle_online":
		return nil, sess.ToggleOnline(ctx, msg.Online)
	case "accept_order":
		return sess.AcceptOrder(ctx, msg.OrderID)
	case "advance_status":
		return sess.AdvanceStatus(ctx)
	case "cancel_order":
		return sess.CancelOrder(ctx, msg.Reason)
	default:
		return nil, errUnknownAction
	}
}
