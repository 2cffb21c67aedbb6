// Package api serves the model catalog, prompt-format guides and dialog
// rendering over HTTP.
package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oscarAI2/llam4/internal/chatformat"
	"github.com/oscarAI2/llam4/internal/sku"
	"github.com/oscarAI2/llam4/internal/tokenizer"
)

type Config struct {
	// CheckpointDir is the root models are downloaded under. Empty
	// disables download status and tokenization.
	CheckpointDir string
	LoadTokenizer func(path string, format chatformat.Format) (*tokenizer.Tokenizer, error)
	// Registry defaults to a fresh registry with Go runtime collectors.
	Registry *prometheus.Registry
}

type Server struct {
	ckptDir       string
	loadTokenizer func(string, chatformat.Format) (*tokenizer.Tokenizer, error)
	registry      *prometheus.Registry
	metrics       *metrics
}

func NewServer(cfg Config) *Server {
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	load := cfg.LoadTokenizer
	if load == nil {
		load = tokenizer.Load
	}
	return &Server{
		ckptDir:       cfg.CheckpointDir,
		loadTokenizer: load,
		registry:      reg,
		metrics:       newMetrics(reg),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/models/:id", s.handleGetModel)
	e.GET("/v1/models/:id/prompt-format", s.handlePromptFormat)
	e.POST("/v1/models/:id/render", s.handleRender)
}

// Handler mounts /metrics next to the instrumented echo routes.
func (s *Server) Handler(e *echo.Echo) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	mux.Handle("/", s.metrics.instrument(e))
	return mux
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) modelDir(m sku.Model) string {
	if s.ckptDir == "" {
		return ""
	}
	return sku.ModelCheckpointDir(s.ckptDir, m.Descriptor())
}

func (s *Server) downloaded(m sku.Model) bool {
	dir := s.modelDir(m)
	if dir == "" {
		return false
	}
	st, err := os.Stat(filepath.Join(dir, "params.json"))
	return err == nil && st.Mode().IsRegular()
}
