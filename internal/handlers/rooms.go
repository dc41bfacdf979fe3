package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/signaling-relay/internal/models"
	"github.com/mossy-p/signaling-relay/internal/registry"
	"github.com/mossy-p/signaling-relay/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// RoomsAPI is the read-only public view of rooms and broadcasts.
type RoomsAPI struct {
	hub        *signaling.Hub
	iceServers []webrtc.ICEServer
}

func NewRoomsAPI(hub *signaling.Hub, iceServers []webrtc.ICEServer) *RoomsAPI {
	if iceServers == nil {
		iceServers = []webrtc.ICEServer{}
	}
	return &RoomsAPI{hub: hub, iceServers: iceServers}
}

// ListRooms returns the public rooms advertised under ?identifier=.
func (a *RoomsAPI) ListRooms(c *gin.Context) {
	rooms, err := a.hub.Rooms().ListPublic(c.Query("identifier"))
	if err != nil {
		writeError(c, err)
		return
	}
	if rooms == nil {
		rooms = []models.RoomSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetRoom reports presence of one room without exposing its password.
func (a *RoomsAPI) GetRoom(c *gin.Context) {
	info := a.hub.Rooms().CheckPresence(c.Param("sessionId"))
	if !info.Exists {
		writeError(c, registry.NewError(registry.CodeNotFound, registry.ReasonRoomNotAvailable))
		return
	}
	c.JSON(http.StatusOK, info)
}

func (a *RoomsAPI) GetBroadcast(c *gin.Context) {
	id := c.Param("broadcastId")
	c.JSON(http.StatusOK, gin.H{
		"broadcastId": id,
		"active":      a.hub.Broadcasts().IsBroadcasting(id),
		"viewers":     a.hub.Broadcasts().ViewerCount(id),
	})
}

func (a *RoomsAPI) ICEServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"iceServers": a.iceServers})
}

var statusByCode = map[registry.Code]int{
	registry.CodeInvalidRequest:  http.StatusBadRequest,
	registry.CodeUnauthorized:    http.StatusUnauthorized,
	registry.CodeWrongPassword:   http.StatusForbidden,
	registry.CodeNotOwner:        http.StatusForbidden,
	registry.CodeNotFound:        http.StatusNotFound,
	registry.CodeAlreadyTaken:    http.StatusConflict,
	registry.CodeAlreadyOccupied: http.StatusConflict,
	registry.CodeFull:            http.StatusConflict,
	registry.CodeNotInRoom:       http.StatusConflict,
}

// writeError maps a rejection to its HTTP status. Anything that is not a
// registry.Error is reported as an internal error without details.
func writeError(c *gin.Context, err error) {
	var rerr *registry.Error
	if !errors.As(err, &rerr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": registry.CodeInternal})
		return
	}
	status, ok := statusByCode[rerr.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": rerr.Reason, "code": rerr.Code})
}
