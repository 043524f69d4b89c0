package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/sahayak-app/sahayak/internal/auth/domain"
	taskdomain "github.com/sahayak-app/sahayak/internal/task/domain"
)

type createTaskRequest struct {
	Title       string `json:"title"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Geohash     string `json:"geohash"`
	ScheduledAt string `json:"scheduled_at"`
}

func (s *Server) CreateTask(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var scheduledAt *time.Time
	if trimmed := strings.TrimSpace(req.ScheduledAt); trimmed != "" {
		parsed, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			AbortWithError(c, newValidationError("scheduled_at", "invalid_scheduled_at", "invalid scheduled_at"))
			return
		}
		scheduledAt = &parsed
	}

	resp, err := s.taskSvc.CreateTask(c.Request.Context(), taskdomain.CreateTaskRequest{
		BuyerID:     principal.UserID,
		Title:       strings.TrimSpace(req.Title),
		AmountMinor: req.Amount,
		Currency:    strings.TrimSpace(req.Currency),
		Geohash:     strings.TrimSpace(req.Geohash),
		ScheduledAt: scheduledAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetTask(c *gin.Context) {
	taskID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.taskSvc.Get(c.Request.Context(), taskID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type assignHelperRequest struct {
	HelperID string `json:"helper_id"`
}

// AssignHelper accepts a helper onto a task. Helpers accept for themselves;
// an admin may assign any helper by id.
func (s *Server) AssignHelper(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	taskID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req assignHelperRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	helperID := principal.UserID
	if trimmed := strings.TrimSpace(req.HelperID); trimmed != "" {
		if principal.Role != authdomain.RoleAdmin {
			AbortWithError(c, ErrForbidden)
			return
		}
		helperID, err = snowflake.ParseString(trimmed)
		if err != nil {
			AbortWithError(c, newValidationError("helper_id", "invalid_helper_id", "invalid helper_id"))
			return
		}
	}

	resp, err := s.taskSvc.AssignHelper(c.Request.Context(), taskID, helperID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type changeStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) ChangeTaskStatus(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	taskID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := taskdomain.TaskStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !knownStatus(status) {
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	resp, err := s.taskSvc.ChangeStatus(c.Request.Context(), taskID, status, principal)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CancelTask(c *gin.Context) {
	principal, ok := principalFrom(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	taskID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.taskSvc.Cancel(c.Request.Context(), taskID, principal, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func knownStatus(status taskdomain.TaskStatus) bool {
	for _, known := range taskdomain.Statuses() {
		if status == known {
			return true
		}
	}
	return false
}

func parseSnowflakeParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return id, nil
}
