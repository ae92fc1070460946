package handlers

import (
	"net/http"

	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/maintenance"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// MaintenanceHandler triggers the period sweep on demand.
type MaintenanceHandler struct {
	scheduler *maintenance.Scheduler
}

// NewMaintenanceHandler constructs a MaintenanceHandler.
func NewMaintenanceHandler(scheduler *maintenance.Scheduler) *MaintenanceHandler {
	return &MaintenanceHandler{scheduler: scheduler}
}

// Run executes one sweep under the shared lock and returns its summary.
func (h *MaintenanceHandler) Run(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "maintenance unavailable"})
		return
	}
	summary, ran, errRun := h.scheduler.RunLocked(c.Request.Context())
	if errRun != nil {
		log.WithError(errRun).Error("maintenance: manual sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed", "summary": summary})
		return
	}
	if !ran {
		c.JSON(http.StatusConflict, gin.H{"error": "sweep already running"})
		return
	}
	log.WithField("admin", auth.AdminUsername(c)).Info("maintenance: manual sweep finished")
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}
