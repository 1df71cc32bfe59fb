package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/latchbio/wf-core-guideseq/internal/auth"
	"github.com/latchbio/wf-core-guideseq/internal/domain"
	"github.com/latchbio/wf-core-guideseq/internal/metrics"
	"github.com/latchbio/wf-core-guideseq/internal/pipeline"
	"github.com/latchbio/wf-core-guideseq/internal/repository"
	"github.com/latchbio/wf-core-guideseq/internal/runner"
	"github.com/latchbio/wf-core-guideseq/internal/service"
	"github.com/latchbio/wf-core-guideseq/internal/storage"
)

const subjectKey = "auth.subject"

// Handler wires HTTP routes to domain services.
type Handler struct {
	runs     service.RunService
	manager  runner.Manager
	storage  storage.Client
	signer   *auth.Signer
	workRoot string
}

func NewHandler(runs service.RunService, manager runner.Manager, store storage.Client, signer *auth.Signer, workRoot string) *Handler {
	return &Handler{
		runs:     runs,
		manager:  manager,
		storage:  store,
		signer:   signer,
		workRoot: workRoot,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	api.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	secured := api.Group("", h.requireToken())
	{
		secured.POST("/runs/guideseq", h.createGuideseqRun)
		secured.POST("/runs/crispresso", h.createCrispressoRun)
		secured.GET("/runs", h.listRuns)
		secured.GET("/runs/:id", h.getRun)
		secured.DELETE("/runs/:id", h.deleteRun)
		secured.GET("/storage/objects", h.listObjects)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (h *Handler) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		subject, err := h.signer.Verify(strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(subjectKey, subject)
		c.Next()
	}
}

type createGuideseqRequest struct {
	InputDir          string `json:"input_dir" binding:"required"`
	OutputDir         string `json:"output_dir" binding:"required"`
	Manifest          string `json:"manifest" binding:"required"`
	IdentifyAndFilter bool   `json:"identify_and_filter"`
	SkipDemultiplex   bool   `json:"skip_demultiplex"`
}

type createCrispressoRequest struct {
	InputDir  string `json:"input_dir" binding:"required"`
	OutputDir string `json:"output_dir" binding:"required"`
	pipeline.CrispressoParams
}

func (h *Handler) createGuideseqRun(c *gin.Context) {
	var req createGuideseqRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.submit(c, service.NewRun{
		Kind:        domain.RunKindGuideseq,
		InputURI:    req.InputDir,
		OutputURI:   req.OutputDir,
		ManifestURI: req.Manifest,
		Guideseq: pipeline.GuideseqParams{
			IdentifyAndFilter: req.IdentifyAndFilter,
			SkipDemultiplex:   req.SkipDemultiplex,
		},
	})
}

func (h *Handler) createCrispressoRun(c *gin.Context) {
	var req createCrispressoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.submit(c, service.NewRun{
		Kind:       domain.RunKindCrispresso,
		InputURI:   req.InputDir,
		OutputURI:  req.OutputDir,
		Crispresso: req.CrispressoParams,
	})
}

func (h *Handler) submit(c *gin.Context, req service.NewRun) {
	req.SubmittedBy = c.GetString(subjectKey)

	run, err := h.runs.CreateRun(c.Request.Context(), req, h.workRoot)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrInvalidRun) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.Enqueue(c.Request.Context(), run.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, run)
}

func (h *Handler) listRuns(c *gin.Context) {
	runs, err := h.runs.ListRuns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *Handler) getRun(c *gin.Context) {
	run, ok := h.lookupRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) lookupRun(c *gin.Context) (*domain.Run, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return nil, false
	}

	run, err := h.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	return run, true
}

func (h *Handler) deleteRun(c *gin.Context) {
	deleteRemote, err := strconv.ParseBool(c.DefaultQuery("delete_remote", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flag delete_remote"})
		return
	}

	run, ok := h.lookupRun(c)
	if !ok {
		return
	}

	var warnings []string
	cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()
	if err := h.manager.Cancel(cancelCtx, run.ID); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		warnings = append(warnings, fmt.Sprintf("cancel run: %v", err))
	}

	if deleteRemote && run.ResultURI != "" {
		loc, err := storage.ParseURI(run.ResultURI)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		remoteCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()
		if err := storage.DeletePrefix(remoteCtx, h.storage, loc.Bucket, loc.Prefix+"/"); err != nil {
			warnings = append(warnings, fmt.Sprintf("delete remote data: %v", err))
		}
	}

	if w := h.cleanupWorkDir(run); w != "" {
		warnings = append(warnings, w)
	}

	if err := h.runs.DeleteRun(c.Request.Context(), run.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"deleted": run.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

// cleanupWorkDir removes the run's staging directory when it lies below the work root.
func (h *Handler) cleanupWorkDir(run *domain.Run) string {
	if run.WorkDir == "" || h.workRoot == "" {
		return ""
	}
	root := filepath.Clean(h.workRoot)
	clean := filepath.Clean(run.WorkDir)
	if rel, err := filepath.Rel(root, clean); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	if err := os.RemoveAll(clean); err != nil && !os.IsNotExist(err) {
		return fmt.Sprintf("remove local data %s: %v", clean, err)
	}
	return ""
}

func (h *Handler) listObjects(c *gin.Context) {
	bucket := strings.TrimSpace(c.Query("bucket"))
	if bucket == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bucket is required"})
		return
	}

	keys, err := storage.ListObjects(c.Request.Context(), h.storage, bucket, c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	resp := make([]StorageObjectResponse, len(keys))
	for i, key := range keys {
		resp[i] = StorageObjectResponse{Key: string(key), Directory: key.IsDirMarker()}
	}
	c.JSON(http.StatusOK, resp)
}

type StorageObjectResponse struct {
	Key       string `json:"key"`
	Directory bool   `json:"directory,omitempty"`
}
