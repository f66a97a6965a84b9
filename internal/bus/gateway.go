package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/PrateekKrishna/rank-sync/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 8 << 10
)

// Authenticator resolves a session id to an identity.
type Authenticator func(ctx context.Context, sessionID string) (*domain.Identity, error)

// PageViewRecorder stores a product page view and returns the new view
// count for the product.
type PageViewRecorder func(ctx context.Context, userID, page, productID string) (int64, error)

// LoginRecorder counts a login toward the user's daily login streak. It
// returns nil when the streak did not change.
type LoginRecorder func(ctx context.Context, userID string) (*domain.StreakUpdate, error)

type GatewayOptions struct {
	Auth       Authenticator
	OnPageView PageViewRecorder
	OnLogin    LoginRecorder
	// AllowedOrigins limits browser origins; empty allows any.
	AllowedOrigins []string
	Timeout        time.Duration
}

// Gateway serves the bus over websockets.
type Gateway struct {
	bus        *Bus
	auth       Authenticator
	onPageView PageViewRecorder
	onLogin    LoginRecorder
	upgrader   websocket.Upgrader
	timeout    time.Duration
	logger     *slog.Logger
}

func NewGateway(b *Bus, opts GatewayOptions) *Gateway {
	g := &Gateway{
		bus:        b,
		auth:       opts.Auth,
		onPageView: opts.OnPageView,
		onLogin:    opts.OnLogin,
		timeout:    opts.Timeout,
		logger:     b.logger.With("component", "gateway"),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	if g.timeout <= 0 {
		g.timeout = 5 * time.Second
	}
	return g
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Handle upgrades the request and runs the connection until it closes.
func (g *Gateway) Handle(c *gin.Context) {
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := g.bus.Connect()
	g.logger.Debug("client connected", "conn_id", conn.ID)
	go g.writePump(ws, conn)
	g.readPump(c.Request.Context(), ws, conn)
}

type session struct {
	userID string
}

func (g *Gateway) readPump(ctx context.Context, ws *websocket.Conn, conn *Conn) {
	defer func() {
		g.bus.Disconnect(conn)
		ws.Close()
	}()
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	var s session
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("websocket read failed", "conn_id", conn.ID, "error", err)
			}
			return
		}
		g.dispatch(ctx, conn, &s, f)
	}
}

func (g *Gateway) writePump(ws *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()
	for {
		select {
		case f, ok := <-conn.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type authData struct {
	SessionID string `json:"sessionId"`
}

type pageViewData struct {
	Page      string `json:"page"`
	ProductID string `json:"productId"`
}

func (g *Gateway) dispatch(ctx context.Context, conn *Conn, s *session, f Frame) {
	switch {
	case f.Event == OpAuth:
		var d authData
		if err := json.Unmarshal(f.Data, &d); err != nil || d.SessionID == "" {
			g.bus.AuthFailed(conn, "session required")
			return
		}
		actx, cancel := context.WithTimeout(ctx, g.timeout)
		id, err := g.auth(actx, d.SessionID)
		cancel()
		if err != nil || id == nil {
			g.bus.AuthFailed(conn, "invalid session")
			return
		}
		s.userID = id.UserID
		g.bus.Authenticate(conn, id)
		if g.onLogin != nil {
			g.recordLogin(ctx, id.UserID)
		}

	case f.Event == OpPageView:
		var d pageViewData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			return
		}
		g.bus.PageView(conn, d.Page)
		if d.ProductID != "" && g.onPageView != nil {
			g.recordView(ctx, s.userID, d)
		}

	case strings.HasPrefix(f.Event, opSubscribe):
		g.bus.Subscribe(conn, strings.TrimPrefix(f.Event, opSubscribe))

	case strings.HasPrefix(f.Event, opUnsubscribe):
		g.bus.Unsubscribe(conn, strings.TrimPrefix(f.Event, opUnsubscribe))

	default:
		g.logger.Debug("unknown client event", "conn_id", conn.ID, "event", f.Event)
	}
}

func (g *Gateway) recordLogin(ctx context.Context, userID string) {
	lctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	update, err := g.onLogin(lctx, userID)
	if err != nil {
		g.logger.Warn("login streak not recorded", "user_id", userID, "error", err)
		return
	}
	if update != nil {
		g.bus.EmitToUser(userID, EventStreakUpdated, update)
	}
}

func (g *Gateway) recordView(ctx context.Context, userID string, d pageViewData) {
	vctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	count, err := g.onPageView(vctx, userID, d.Page, d.ProductID)
	if err != nil {
		g.logger.Warn("page view not recorded", "product_id", d.ProductID, "error", err)
		return
	}
	g.bus.Broadcast(EventProductViewCount, map[string]any{"productId": d.ProductID, "viewCount": count})
}
