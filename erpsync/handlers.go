package erpsync

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func TriggerRunHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerRunRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		if v := strings.TrimSpace(c.Query("entities")); v != "" && len(req.EntityTypes) == 0 {
			req.EntityTypes = strings.Split(v, ",")
		}

		types, err := ParseEntityTypes(req.EntityTypes)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		run, err := svc.Trigger(c.Request.Context(), types, models.SyncTriggeredManual)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": run.ID, "status": run.Status})
	}
}

func SyncHistoryHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		runs, err := models.ListSyncRuns(c.Request.Context(), svc.db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := loadRun(c, svc)
		if !ok {
			return
		}
		diags, err := models.ListSyncDiagnostics(c.Request.Context(), svc.db, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(*run),
			Diagnostics:     mapDiagnostics(diags),
		})
	}
}

func RetrySyncRunHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		run, err := svc.Retry(c.Request.Context(), uint(id))
		if err != nil {
			if errors.Is(err, ErrUnknownRun) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": run.ID, "status": run.Status})
	}
}

func ExportRunHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := loadRun(c, svc)
		if !ok {
			return
		}
		diags, err := models.ListSyncDiagnostics(c.Request.Context(), svc.db, run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		f, err := BuildDiagnosticsWorkbook(run, diags)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=erp-sync-run-%d.xlsx", run.ID))
		if err := f.Write(c.Writer); err != nil {
			c.Status(http.StatusInternalServerError)
		}
	}
}

func LastSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cached, found, err := LastSummary()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "no finished run"})
			return
		}
		c.JSON(http.StatusOK, cached)
	}
}

func loadRun(c *gin.Context, svc *Service) (*models.SyncRun, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return nil, false
	}
	run, err := models.GetSyncRun(c.Request.Context(), svc.db, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return run, true
}

// RegisterRoutes mounts the run API on r.
func RegisterRoutes(r gin.IRouter, svc *Service) {
	api := r.Group("/api/erp-sync")
	api.POST("/runs", TriggerRunHandler(svc))
	api.GET("/runs", SyncHistoryHandler(svc))
	api.GET("/runs/:id", SyncRunDetailHandler(svc))
	api.POST("/runs/:id/retry", RetrySyncRunHandler(svc))
	api.GET("/runs/:id/export", ExportRunHandler(svc))
	api.GET("/summary", LastSummaryHandler())

	r.POST("/pubsub/erp-sync", PubSubPushHandler(svc))
}
