// Package web serves the WebSocket telemetry endpoint and the small
// status surface the core owns. The full REST control API is an
// external collaborator reached through the bridge.
package web

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/alarms"
	"github.com/ps-ux/ipsim/internal/fanout"
	"github.com/ps-ux/ipsim/internal/sim"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// NewRouter builds the gin router for the WebSocket hub, health, and
// simulation status endpoints.
func NewRouter(engine *sim.Engine, alarmEngine *alarms.Engine, hub *fanout.Hub, logger *logrus.Logger) *gin.Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	{
		api.GET("/simulation/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, engine.Status())
		})
		api.GET("/alarms/active", func(c *gin.Context) {
			c.JSON(http.StatusOK, alarmEngine.ActiveAlarms())
		})
		api.GET("/alarms/history", func(c *gin.Context) {
			c.JSON(http.StatusOK, alarmEngine.History(100))
		})
	}

	router.GET("/ws/pumps", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		id := hub.Add(conn)
		if id == "" {
			return
		}
		// Reads are drained only to observe disconnects; the channel
		// is server-push.
		go func() {
			defer hub.Remove(id)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})

	return router
}
