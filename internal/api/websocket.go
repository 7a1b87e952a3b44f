package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"papertrade-core/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocket streams the caller's trade events. Browsers cannot set headers
// on the upgrade, so the token may come as ?token=.
func (s *Server) websocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	}
	accountID, err := parseToken(token, s.opts.JWTSecret)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"code":  "INVALID_TOKEN",
			"error": "invalid or expired token",
		})
		return
	}

	if s.Bus == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"code":  "BUS_UNAVAILABLE",
			"error": "event bus not ready",
		})
		return
	}

	// Subscribe before the upgrade so no event after the handshake is missed.
	stream, unsub := s.Bus.SubscribeMany(64, events.EventTradeOpened, events.EventTradeClosed)
	defer unsub()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case msg, ok := <-stream:
			if !ok {
				return
			}
			ev, ok := msg.(events.TradeEvent)
			if !ok || ev.AccountID != accountID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("ws write failed", zap.String("account_id", accountID), zap.Error(err))
				return
			}
		}
	}
}
