package server

import (
	"context"
	"log/slog"
	"market-chat/contract"
	"market-chat/domain"
	"market-chat/observability"
	"market-chat/runtime"
	"market-chat/sink"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"nhooyr.io/websocket"
)

const DefaultReadLimit = 64 << 10

type WSConfig struct {
	Origins         []string
	AllowAllOrigins bool
	ReadLimit       int64
	Sink            sink.Options
}

// WSHandler upgrades authenticated requests and pumps frames between the
// socket and the gateway.
type WSHandler struct {
	gateway    *runtime.Gateway
	monitoring *observability.MonitoringManager
	log        *slog.Logger
	cfg        WSConfig
}

func NewWSHandler(gateway *runtime.Gateway, monitoring *observability.MonitoringManager, log *slog.Logger, cfg WSConfig) *WSHandler {
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	return &WSHandler{gateway: gateway, monitoring: monitoring, log: log.With("component", "ws"), cfg: cfg}
}

// Handle serves GET /ws. The credential is checked before the upgrade so a
// refused client gets a plain 401 and never a socket.
func (h *WSHandler) Handle(c *gin.Context) {
	var (
		conn *websocket.Conn
		ws   *sink.WebsocketSink
	)
	sess, err := h.gateway.Connect(c.Request.Context(), Credential(c.Request), func(id domain.ConnectionID) (contract.ConnectionSink, error) {
		var err error
		conn, err = websocket.Accept(c.Writer, c.Request, h.acceptOptions())
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(h.cfg.ReadLimit)
		ws = sink.NewWebsocketSink(id, sink.NewWebsocketTransport(conn), h.log, h.monitoring, h.cfg.Sink)
		return ws, nil
	})
	if err != nil {
		// Accept answers the client itself when the upgrade fails
		if conn == nil && !c.Writer.Written() {
			abortWithError(c, err)
		}
		return
	}
	defer h.gateway.Disconnect(sess)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		if err := ws.Run(ctx); err != nil {
			h.log.Debug("Writer stopped", "connection_id", sess.ID, "error", err)
		}
		cancel()
	}()

	for {
		_, frame, err := conn.Read(ctx)
		if err != nil {
			h.log.Debug("Read loop stopped",
				"connection_id", sess.ID,
				"status", websocket.CloseStatus(err),
				"error", err)
			return
		}
		_ = h.gateway.HandleFrame(ctx, sess, frame)
	}
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	if h.cfg.AllowAllOrigins {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: originPatterns(h.cfg.Origins)}
}

// originPatterns turns configured origins into the host patterns the
// websocket origin check matches against.
func originPatterns(origins []string) []string {
	return lo.FilterMap(origins, func(origin string, _ int) (string, bool) {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			return "", false
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			return u.Host, true
		}
		return origin, true
	})
}
