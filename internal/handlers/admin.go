package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/randomchat-signaling/internal/middleware"
)

const adminTokenTTL = 12 * time.Hour

// AdminLoginRequest is the operator login body.
type AdminLoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// AdminLoginResponse carries a bearer token for the operator API.
type AdminLoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AdminLogin exchanges the shared operator password for a signed token.
func AdminLogin(jwtSecret, password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AdminLoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(req.Password), []byte(password)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		}

		now := time.Now()
		expires := now.Add(adminTokenTTL)
		claims := middleware.AdminClaims{
			Role: middleware.RoleAdmin,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "operator",
				ExpiresAt: jwt.NewNumericDate(expires),
				IssuedAt:  jwt.NewNumericDate(now),
				NotBefore: jwt.NewNumericDate(now),
			},
		}

		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, AdminLoginResponse{Token: token, ExpiresAt: expires})
	}
}

// StatsResponse is returned by GET /api/admin/stats.
type StatsResponse struct {
	Online      int `json:"online"`
	Idle        int `json:"idle"`
	Waiting     int `json:"waiting"`
	Sessions    int `json:"sessions"`
	Connections int `json:"connections"`
}

// GetStats reports registry population and open sockets.
func (h *Hub) GetStats(c *gin.Context) {
	st := h.svc.Stats()
	c.JSON(http.StatusOK, StatsResponse{
		Online:      st.Online,
		Idle:        st.Idle,
		Waiting:     st.Waiting,
		Sessions:    st.Sessions,
		Connections: h.ConnectionCount(),
	})
}

// EvictPeer disconnects a peer by id.
func (h *Hub) EvictPeer(c *gin.Context) {
	peerID := c.Param("peerId")
	if !h.Evict(peerID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Peer not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Peer evicted", "peerId": peerID})
}
