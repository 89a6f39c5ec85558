package erpsync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/hrportal_backend/config"
	"bitbucket.org/mmdatafocus/hrportal_backend/models"
	"bitbucket.org/mmdatafocus/hrportal_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TriggerSyncHandler starts a sync of the given type. Answers 409 when a
// run of that type is already in flight and force was not set.
func TriggerSyncHandler(syncType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		params := SyncParams{Forced: req.Force}
		if strings.TrimSpace(req.Since) != "" {
			t, ok := utils.ParseTimeFlexible(req.Since)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since value"})
				return
			}
			params.Since = t.UTC().Format(time.RFC3339)
		}

		triggeredBy := models.SyncTriggeredManual
		if req.Force {
			triggeredBy = models.SyncTriggeredForced
		}

		db := config.GetDB()
		run, err := TriggerSync(c.Request.Context(), db, syncType, triggeredBy, params)
		if err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress", "runningId": run.ID})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		db := config.GetDB()
		runs, err := ListRuns(c.Request.Context(), db,
			strings.TrimSpace(c.Query("type")),
			strings.TrimSpace(c.Query("status")),
			limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run, false))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		db := config.GetDB()
		run, err := GetRun(c.Request.Context(), db, uint(id))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, mapRunToResponse(*run, true))
	}
}

// CleanupHandler deletes ledger rows older than the requested age. The
// newest rows survive regardless so history never goes blank.
func CleanupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CleanupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days is required, minimum 30"})
			return
		}

		db := config.GetDB()
		cutoff := time.Now().AddDate(0, 0, -req.Days)
		deleted, err := CleanupOldRuns(c.Request.Context(), db, cutoff)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		actor, _ := utils.GetUsernameFromContext(c.Request.Context())
		config.GetLogger().WithFields(logrus.Fields{
			"days":     req.Days,
			"deleted":  deleted,
			"username": actor,
		}).Info("sync run ledger cleanup")

		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun, withErrors bool) SyncRunResponse {
	resp := SyncRunResponse{
		ID:               run.ID,
		Type:             run.Type,
		Status:           run.Status,
		TriggeredBy:      run.TriggeredBy,
		StartedAt:        formatTime(run.StartedAt),
		CompletedAt:      formatTime(run.CompletedAt),
		RecordsProcessed: run.RecordsProcessed,
		RecordsFailed:    run.RecordsFailed,
		DurationMs:       run.DurationMs,
	}
	if withErrors {
		resp.Errors = DecodeErrors(run.ErrorsJSON)
	}
	return resp
}
