package signaling

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPongWait    = 60 * time.Second
	wsPingPeriod  = (wsPongWait * 9) / 10
	wsMaxMessage  = 64 * 1024
	wsSendBacklog = 64
)

// ErrForbidden is returned by an Authorizer when the caller is not a party to the call.
var ErrForbidden = errors.New("signaling: not a participant of this call")

// Authorizer decides whether the request may join the call's channel.
type Authorizer func(c *gin.Context, callID string) error

// Gateway bridges a browser WebSocket onto a Relay client so browsers and
// headless agents share one signaling channel per call.
type Gateway struct {
	NewRelay  func() Relay
	Authorize Authorizer
	Upgrader  websocket.Upgrader
	Log       *slog.Logger
}

// NewGateway accepts browser upgrades from allowedOrigins or the serving host.
// Requests without an Origin header (headless clients) are not origin-checked.
func NewGateway(newRelay func() Relay, authorize Authorizer, allowedOrigins []string, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{
		NewRelay:  newRelay,
		Authorize: authorize,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		Log: log,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o = normalizeOrigin(o); o != "" {
			set[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if set[normalizeOrigin(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}

// Handle serves GET /v1/calls/:id/signal.
func (g *Gateway) Handle(c *gin.Context) {
	callID := c.Param("id")
	if callID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call id required"})
		return
	}
	if g.Authorize != nil {
		if err := g.Authorize(c, callID); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrForbidden) {
				status = http.StatusForbidden
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "cannot join call"})
			return
		}
	}

	conn, err := g.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		g.Log.Warn("websocket upgrade failed", "call_id", callID, "err", err)
		return
	}
	g.serve(c.Request.Context(), conn, callID)
}

func (g *Gateway) serve(parent context.Context, conn *websocket.Conn, callID string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	log := g.Log.With("call_id", callID)

	relay := g.NewRelay()
	out := make(chan Message, wsSendBacklog)
	err := relay.Join(ctx, callID, func(m Message) {
		select {
		case out <- m:
		default:
			log.Warn("websocket backlog full, dropping signal", "type", m.Type)
		}
	})
	if err != nil {
		log.Error("relay join failed", "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "relay unavailable"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}
	defer func() { _ = relay.Leave() }()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, conn, out, log)
		// Unblocks the reader when the writer gives up first.
		_ = conn.Close()
	}()

	g.readLoop(ctx, conn, relay, callID, log)
	cancel()
	<-writerDone
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, relay Relay, callID string, log *slog.Logger) {
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket closed", "err", err)
			}
			return
		}
		if err := m.Validate(); err != nil {
			log.Debug("ignoring invalid signal from browser", "err", err)
			continue
		}
		if err := relay.Send(ctx, callID, m); err != nil {
			log.Warn("relay send failed", "type", m.Type, "err", err)
		}
	}
}

// writeLoop is the connection's only writer.
func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, out <-chan Message, log *slog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		case m := <-out:
			// Browsers never need the relay client id.
			m.Sender = ""
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(m); err != nil {
				log.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
