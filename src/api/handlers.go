package api

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/SandersNeo/perfdiag/src/aggregator"
	"github.com/SandersNeo/perfdiag/src/alerts"
	"github.com/SandersNeo/perfdiag/src/ras"
	"github.com/SandersNeo/perfdiag/src/techlog"
)

// analyzeLogs accepts tech-log files as a multipart upload (field
// "logs") and returns the immediate analysis. File names are preserved
// because the hourly naming carries the base timestamp.
func (s *Server) analyzeLogs(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected multipart form upload"})
		return
	}
	files := form.File["logs"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files in field \"logs\""})
		return
	}

	dir, err := os.MkdirTemp("", "perfdiag-logs-")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer os.RemoveAll(dir)

	paths := make([]string, 0, len(files))
	for _, f := range files {
		dst := filepath.Join(dir, filepath.Base(f.Filename))
		if err := c.SaveUploadedFile(f, dst); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		paths = append(paths, dst)
	}

	result, err := s.engine.AnalyzeLogs(c.Request.Context(), paths...)
	if err != nil {
		if errors.Is(err, techlog.ErrNoReadableInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// clusterInfo polls the configured session source, or a one-off
// endpoint when host and port query parameters are given. An
// unreachable cluster is reported as data, not as a request failure.
func (s *Server) clusterInfo(c *gin.Context) {
	source := s.engine.Source()
	if host := c.Query("host"); host != "" {
		port, err := strconv.Atoi(c.Query("port"))
		if err != nil || port <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "port must be a positive integer"})
			return
		}
		source = ras.NewClient(host, port)
	}

	info, err := source.ClusterInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": ras.StatusUnknown, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// matchCluster rejects a cluster_id query parameter naming a cluster
// this engine does not monitor. An absent parameter always matches.
func (s *Server) matchCluster(c *gin.Context) bool {
	want := c.Query("cluster_id")
	known := s.engine.ClusterID()
	// Before the first poll the cluster identity is unknown; accept.
	if want == "" || known == "" || want == known {
		return true
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "unknown cluster_id"})
	return false
}

func (s *Server) sessions(c *gin.Context) {
	if !s.matchCluster(c) {
		return
	}
	sessions, err := s.engine.PollSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"degraded": true, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (s *Server) sessionAnalysis(c *gin.Context) {
	if !s.matchCluster(c) {
		return
	}
	report, err := s.engine.AnalyzeSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"degraded": true, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) alerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": s.engine.ActiveAlerts()})
}

// evaluateAlerts runs one cluster evaluation pass and returns only the
// alerts it raised.
func (s *Server) evaluateAlerts(c *gin.Context) {
	raised, err := s.engine.EvaluateAlerts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"degraded": true, "error": err.Error(), "alerts": []any{}})
		return
	}
	if raised == nil {
		raised = []alerts.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"alerts": raised})
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	id := c.Param("id")
	if !s.engine.AcknowledgeAlert(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown alert id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
}

type sqlRequest struct {
	Query string `json:"query" binding:"required"`
}

func (s *Server) analyzeSQL(c *gin.Context) {
	var req sqlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must contain a non-empty \"query\""})
		return
	}
	c.JSON(http.StatusOK, s.engine.AnalyzeSQL(req.Query))
}

func (s *Server) optimizeSQL(c *gin.Context) {
	var req sqlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must contain a non-empty \"query\""})
		return
	}
	c.JSON(http.StatusOK, s.engine.OptimizeSQL(req.Query))
}

// queueSQL defers analysis to the next aggregation cycle.
func (s *Server) queueSQL(c *gin.Context) {
	var req sqlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must contain a non-empty \"query\""})
		return
	}
	s.engine.EnqueueSQL(req.Query)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// health serves the latest cycle report, running one on demand before
// the first scheduled cycle completes.
func (s *Server) health(c *gin.Context) {
	if !s.matchCluster(c) {
		return
	}
	report := s.engine.LastReport()
	if report == nil {
		report = s.engine.RunCycle(c.Request.Context())
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) exportMetrics(c *gin.Context) {
	report := s.engine.LastReport()
	if report == nil {
		report = s.engine.RunCycle(c.Request.Context())
	}

	format := aggregator.ExportFormat(c.DefaultQuery("format", "json"))
	out, err := aggregator.Export(report, format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, format.ContentType(), out)
}
