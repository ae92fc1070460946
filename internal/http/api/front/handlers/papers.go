package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/exampapers/ExamPrepBusiness/internal/access"
	"github.com/exampapers/ExamPrepBusiness/internal/auth"
	"github.com/exampapers/ExamPrepBusiness/internal/http/api"
	"github.com/exampapers/ExamPrepBusiness/internal/usage"
	"github.com/gin-gonic/gin"
)

const maxPaperIDsPerRequest = 200

// PaperFrontHandler answers paper access questions and records opens.
type PaperFrontHandler struct {
	access   *access.Service
	recorder *usage.Recorder
}

// NewPaperFrontHandler constructs a PaperFrontHandler.
func NewPaperFrontHandler(accessService *access.Service, recorder *usage.Recorder) *PaperFrontHandler {
	return &PaperFrontHandler{access: accessService, recorder: recorder}
}

// Access returns one decision per paper in ?ids=1,2,3.
func (h *PaperFrontHandler) Access(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	ids, errIDs := parseIDList(c.Query("ids"))
	if errIDs != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errIDs.Error()})
		return
	}
	decisions, errList := h.access.ListPaperAccess(c.Request.Context(), userID, ids)
	if errList != nil {
		api.AbortWithError(c, errList, "check paper access failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"papers": decisions})
}

// Open authorizes and records a paper open.
func (h *PaperFrontHandler) Open(c *gin.Context) {
	userID := auth.UserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	paperID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || paperID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	decision, errOpen := h.recorder.RecordPaperOpen(c.Request.Context(), userID, paperID)
	if errOpen != nil {
		if errors.Is(errOpen, usage.ErrPaperLocked) {
			status := http.StatusForbidden
			if decision.AccessStatus == access.StatusNotFound {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": "paper locked", "paper": decision})
			return
		}
		api.AbortWithError(c, errOpen, "open paper failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"paper": decision})
}

func parseIDList(raw string) ([]uint64, error) {
	parts := strings.Split(raw, ",")
	out := make([]uint64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, errParse := strconv.ParseUint(part, 10, 64)
		if errParse != nil || id == 0 {
			return nil, errors.New("ids must be positive integers")
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, errors.New("ids is required")
	}
	if len(out) > maxPaperIDsPerRequest {
		return nil, errors.New("too many ids")
	}
	return out, nil
}
