package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"civitai-model-sync/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Server exposes the host-facing HTTP boundary: metadata retrieval for the
// UI and model deletion. Every path it touches must live under the models
// root; traversal and symlink escapes are rejected before any filesystem
// access.
type Server struct {
	ModelsRoot string
}

func New(cfg models.Config) *Server {
	root := cfg.ModelsRoot
	if root == "" {
		root = "models"
	}
	return &Server{ModelsRoot: root}
}

// Router builds the gin engine with the API routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/api/metadata", s.handleMetadata)
	router.POST("/api/delete_model", s.handleDeleteModel)
	return router
}

// underRoot checks that a relative request path is rooted in the models
// directory and free of traversal segments.
func (s *Server) underRoot(reqPath string) bool {
	normalized := filepath.ToSlash(reqPath)
	if strings.Contains(normalized, "..") {
		return false
	}
	return strings.HasPrefix(normalized, filepath.ToSlash(s.ModelsRoot)+"/")
}

func (s *Server) handleMetadata(c *gin.Context) {
	reqPath := c.Query("path")
	if !strings.HasSuffix(reqPath, ".metadata.json") || !s.underRoot(reqPath) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	absPath, err := filepath.Abs(reqPath)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		log.WithError(err).Errorf("Failed to read metadata file %s", absPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not read metadata"})
		return
	}

	var parsed interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		log.WithError(err).Errorf("Unparsable metadata file %s", absPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid metadata file"})
		return
	}
	c.JSON(http.StatusOK, parsed)
}

type deleteModelRequest struct {
	ModelPath string `json:"model_path"`
}

// sidecarExtensions are the related files removed alongside a model file,
// matched by shared base name.
var sidecarExtensions = []string{
	".metadata.json", ".sha256", ".json", ".civitai.info",
	".preview.jpg", ".preview.jpeg", ".preview.png", ".preview.webp",
	".jpg", ".jpeg", ".png", ".webp",
}

func (s *Server) handleDeleteModel(c *gin.Context) {
	var req deleteModelRequest
	if err := c.BindJSON(&req); err != nil || req.ModelPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No model_path provided"})
		return
	}

	if !s.underRoot(req.ModelPath) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	absPath, err := filepath.Abs(req.ModelPath)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid model path"})
		return
	}
	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File does not exist"})
			return
		}
		log.WithError(err).Errorf("Failed to stat %s", absPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not access file"})
		return
	}

	// Resolve symlinks/junctions; the real location must itself contain a
	// models path segment or the request is an escape attempt.
	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		log.WithError(err).Errorf("Failed to resolve %s", absPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not resolve path"})
		return
	}
	if !containsModelsSegment(realPath) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid model path"})
		return
	}

	log.Infof("Deleting model and sidecars: %s", absPath)
	if err := os.Remove(absPath); err != nil {
		log.WithError(err).Errorf("Failed to delete %s", absPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not delete model file"})
		return
	}

	baseNoExt := strings.TrimSuffix(absPath, filepath.Ext(absPath))
	for _, ext := range sidecarExtensions {
		related := baseNoExt + ext
		if _, err := os.Stat(related); err == nil {
			if err := os.Remove(related); err != nil {
				log.WithError(err).Warnf("Failed to delete sidecar %s", related)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Model and related files deleted: " + absPath})
}

func containsModelsSegment(p string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(p), "/") {
		if strings.EqualFold(segment, "models") {
			return true
		}
	}
	return false
}
