package http

import (
	"net/http"

	"rangeview/internal/core/domain"
	"rangeview/internal/core/services"
	"rangeview/internal/infrastructure/monitoring"
	apperrors "rangeview/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ViewHandler is the control surface of the bundled host: it lets an
// operator mount views, switch cameras, push resize signals and read the
// latest overlay frame.
type ViewHandler struct {
	views  *services.ViewService
	health *monitoring.HealthChecker
}

func NewViewHandler(views *services.ViewService, health *monitoring.HealthChecker) *ViewHandler {
	return &ViewHandler{
		views:  views,
		health: health,
	}
}

func (h *ViewHandler) SetupRoutes(router gin.IRouter) {
	router.GET("/healthz", h.Health)
	h.SetupViewRoutes(router)
}

// SetupViewRoutes registers the view routes only, for hosts that put them
// behind authentication.
func (h *ViewHandler) SetupViewRoutes(router gin.IRouter) {
	views := router.Group("/views")
	{
		views.GET("", h.ListViews)
		views.GET("/:view", h.GetView)
		views.PUT("/:view/camera/:cameraId", h.Navigate)
		views.DELETE("/:view/camera", h.Clear)
		views.DELETE("/:view", h.Unmount)
		views.POST("/:view/resize", h.Resize)
		views.POST("/:view/reconnect", h.Reconnect)
	}
}

func (h *ViewHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status == monitoring.HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"health":        status,
		"system_online": h.views.SystemOnline(),
	})
}

func (h *ViewHandler) ListViews(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"views":         h.views.Snapshots(),
		"system_online": h.views.SystemOnline(),
	})
}

func (h *ViewHandler) GetView(c *gin.Context) {
	view, err := h.views.View(domain.ViewID(c.Param("view")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view.Snapshot())
}

// Navigate mounts the view if needed and switches it to the camera. The
// camera is validated first so a rejected request mounts nothing.
func (h *ViewHandler) Navigate(c *gin.Context) {
	cameraID := domain.CameraID(c.Param("cameraId"))
	if err := cameraID.Validate(); err != nil {
		_ = c.Error(err)
		return
	}

	view := h.views.Mount(domain.ViewID(c.Param("view")))
	if err := view.Navigate(cameraID); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, view.Snapshot())
}

func (h *ViewHandler) Clear(c *gin.Context) {
	view, err := h.views.View(domain.ViewID(c.Param("view")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	view.Clear()
	c.Status(http.StatusNoContent)
}

func (h *ViewHandler) Unmount(c *gin.Context) {
	if err := h.views.Unmount(domain.ViewID(c.Param("view"))); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ViewHandler) Resize(c *gin.Context) {
	var req struct {
		Width  float64 `json:"width" binding:"required"`
		Height float64 `json:"height" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	box := domain.ViewportBox{Width: req.Width, Height: req.Height}
	if err := box.Validate(); err != nil {
		_ = c.Error(err)
		return
	}

	view := h.views.Mount(domain.ViewID(c.Param("view")))
	if err := view.Resize(box); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *ViewHandler) Reconnect(c *gin.Context) {
	view, err := h.views.View(domain.ViewID(c.Param("view")))
	if err != nil {
		_ = c.Error(err)
		return
	}
	if err := view.Reconnect(); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusAccepted, view.Snapshot())
}
