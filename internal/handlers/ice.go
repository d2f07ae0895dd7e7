package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

// ICEServersResponse is what browsers feed into RTCPeerConnection.
type ICEServersResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

// GetICEServers serves the configured STUN/TURN servers.
func GetICEServers(servers []webrtc.ICEServer) gin.HandlerFunc {
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusOK, ICEServersResponse{ICEServers: servers})
	}
}
