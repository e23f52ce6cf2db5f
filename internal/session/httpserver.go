package session

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	logger "github.com/paseohq/paseod/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Gateway wires a Hub onto a gin.Engine's /ws upgrade route and /healthz
// endpoint, grounded on the teacher's websocket gateway's setup/handler
// split.
type Gateway struct {
	hub      *Hub
	serverID string
	hostname string
	version  string
	logger   *logger.Logger
}

// NewGateway creates a Gateway serving hub's connections. serverID and
// version populate the welcome frame's identity fields (spec §6.1).
func NewGateway(hub *Hub, serverID, version string, log *logger.Logger) *Gateway {
	hostname, _ := os.Hostname()
	return &Gateway{
		hub:      hub,
		serverID: serverID,
		hostname: hostname,
		version:  version,
		logger:   log.WithFields(zap.String("component", "ws-gateway")),
	}
}

// SetupRoutes registers /ws and /healthz on router.
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.handleConnection)
	router.GET("/healthz", g.handleHealth)
}

func (g *Gateway) handleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("failed to upgrade websocket connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	g.logger.Debug("connection established", zap.String("client_id", clientID), zap.String("remote_addr", c.Request.RemoteAddr))

	client := NewClient(clientID, conn, g.hub, g.logger)
	g.hub.Register(client)
	client.SendWelcome(g.serverID, g.hostname, g.version, false)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "paseod",
		"clients": g.hub.ClientCount(),
	})
}
