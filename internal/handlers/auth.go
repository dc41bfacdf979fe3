package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signaling-relay/internal/admin"
	"github.com/mossy-p/signaling-relay/internal/errlog"
	"github.com/mossy-p/signaling-relay/internal/middleware"
)

const adminTokenTTL = 12 * time.Hour

// LoginRequest represents the admin login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the admin login response
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AdminAPI is the REST mirror of the admin socket channel.
type AdminAPI struct {
	channel   *admin.Channel
	jwtSecret string
}

func NewAdminAPI(channel *admin.Channel, jwtSecret string) *AdminAPI {
	return &AdminAPI{channel: channel, jwtSecret: jwtSecret}
}

// Login checks the configured admin credentials and issues a JWT.
func (a *AdminAPI) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	creds := admin.Credentials{Username: req.Username, Password: req.Password}
	if err := a.channel.Authorize(creds); err != nil {
		a.channel.RecordFailedLogin(c.Request.Context(), creds)
		writeError(c, err)
		return
	}

	token, expires, err := middleware.IssueAdminToken(a.jwtSecret, req.Username, adminTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate token",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expires,
	})
}

func (a *AdminAPI) Snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, a.channel.Snapshot(true))
}

func (a *AdminAPI) Peer(c *gin.Context) {
	peer, err := a.channel.UserInfo(c.Param("peerId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, peer)
}

func (a *AdminAPI) DeletePeer(c *gin.Context) {
	if err := a.channel.DeleteUser(c.Param("peerId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *AdminAPI) DeleteRoom(c *gin.Context) {
	if err := a.channel.DeleteRoom(c.Param("sessionId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *AdminAPI) Logs(c *gin.Context) {
	entries, err := a.channel.Logs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []errlog.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}

func (a *AdminAPI) ClearLogs(c *gin.Context) {
	if err := a.channel.ClearLogs(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
