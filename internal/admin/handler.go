package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fleetgate/internal/gateway"
	"fleetgate/internal/keys"
	"fleetgate/internal/model"
	"fleetgate/internal/threat"
)

// Handler serves the administrative API: key lifecycle, security events,
// IP lists and health.
type Handler struct {
	keys      keys.Manager
	recorder  *threat.Recorder
	detector  *threat.Detector
	store     gateway.Pinger
	startedAt time.Time
}

// NewHandler creates a Handler.
func NewHandler(km keys.Manager, recorder *threat.Recorder, detector *threat.Detector, store gateway.Pinger) *Handler {
	return &Handler{
		keys:      km,
		recorder:  recorder,
		detector:  detector,
		store:     store,
		startedAt: time.Now(),
	}
}

func (h *Handler) CreateKeyHandler(c *gin.Context) {
	var req keys.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	created, err := h.keys.Create(c.Request.Context(), req, actor(c))
	if err != nil {
		if errors.Is(err, keys.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create key"})
		return
	}
	// The secret appears in this response and nowhere else, ever.
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListKeysHandler(c *gin.Context) {
	status := model.KeyStatus(c.DefaultQuery("status", string(model.KeyStatusActive)))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	list, total, err := h.keys.List(c.Request.Context(), status, page, perPage)
	if err != nil {
		if errors.Is(err, keys.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list keys"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": list, "total": total, "page": page})
}

func (h *Handler) GetKeyHandler(c *gin.Context) {
	key, err := h.keys.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, keys.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load key"})
		return
	}
	c.JSON(http.StatusOK, key)
}

func (h *Handler) UpdateKeyHandler(c *gin.Context) {
	var req keys.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	key, err := h.keys.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, keys.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		case errors.Is(err, keys.ErrRevoked):
			c.JSON(http.StatusConflict, gin.H{"error": "Key is revoked"})
		case errors.Is(err, keys.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update key"})
		}
		return
	}
	c.JSON(http.StatusOK, key)
}

func (h *Handler) RevokeKeyHandler(c *gin.Context) {
	err := h.keys.Revoke(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		switch {
		case errors.Is(err, keys.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		case errors.Is(err, keys.ErrRevoked):
			c.JSON(http.StatusConflict, gin.H{"error": "Key already revoked"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke key"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key revoked"})
}

func (h *Handler) RotateKeyHandler(c *gin.Context) {
	created, err := h.keys.Rotate(c.Request.Context(), c.Param("id"), actor(c))
	if err != nil {
		switch {
		case errors.Is(err, keys.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
		case errors.Is(err, keys.ErrRevoked):
			c.JSON(http.StatusConflict, gin.H{"error": "Cannot rotate a revoked key"})
		case errors.Is(err, keys.ErrRotationPartial):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Rotation partially applied; operator attention required"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rotate key"})
		}
		return
	}
	c.JSON(http.StatusOK, created)
}

func (h *Handler) KeyAnalyticsHandler(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "7"))
	analytics, err := h.keys.Analytics(c.Request.Context(), c.Param("id"), days)
	if err != nil {
		if errors.Is(err, keys.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load analytics"})
		return
	}
	c.JSON(http.StatusOK, analytics)
}

func (h *Handler) RecentEventsHandler(c *gin.Context) {
	n, _ := strconv.ParseInt(c.DefaultQuery("limit", "100"), 10, 64)
	events, err := h.recorder.Recent(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) EventStatsHandler(c *gin.Context) {
	counts, err := h.recorder.CountsByType(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load event stats"})
		return
	}
	denySize, err := h.detector.DenyListSize(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load deny list size"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts_by_type": counts, "deny_list_size": denySize})
}

func (h *Handler) DenyIPHandler(c *gin.Context) {
	ip := c.Param("ip")
	if ip == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "IP is required"})
		return
	}
	if err := h.detector.DenyIP(c.Request.Context(), ip); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update deny list"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "IP denied"})
}

func (h *Handler) UndenyIPHandler(c *gin.Context) {
	if err := h.detector.UndenyIP(c.Request.Context(), c.Param("ip")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update deny list"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "IP removed from deny list"})
}

func (h *Handler) HealthHandler(c *gin.Context) {
	health := gateway.Health{
		Status:         "healthy",
		StoreReachable: true,
		Uptime:         time.Since(h.startedAt).Seconds(),
	}
	if err := h.store.Ping(c.Request.Context()); err != nil {
		health.Status = "degraded"
		health.StoreReachable = false
	}
	c.JSON(http.StatusOK, health)
}

func actor(c *gin.Context) string {
	if user, _, ok := c.Request.BasicAuth(); ok {
		return user
	}
	return "admin"
}
