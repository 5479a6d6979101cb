package controllers

import (
	"context"
	"net/http"
	"sync"
	"time"

	httperrors "github.com/dropDatabas3/permgate/internal/http/errors"
	"github.com/dropDatabas3/permgate/internal/observability/logger"
)

// Check dependencia que /readyz consulta.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthController maneja /healthz y /readyz.
type HealthController struct {
	version string
	checks  []Check
	timeout time.Duration
}

// NewHealthController crea el controller. Cada check corre con timeout propio.
func NewHealthController(version string, checks ...Check) *HealthController {
	return &HealthController{version: version, checks: checks, timeout: 2 * time.Second}
}

type healthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// Healthz GET /healthz: el proceso está vivo.
func (c *HealthController) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: c.version})
}

// Readyz GET /readyz: todas las dependencias responden.
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Component("controller"), logger.Op("HealthController.Readyz"))

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
		return
	}

	resp := healthResponse{Status: "ready", Version: c.version, Components: map[string]string{}}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, chk := range c.checks {
		wg.Add(1)
		go func(chk Check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			status := "ok"
			if err := chk.Ping(cctx); err != nil {
				status = "error: " + err.Error()
			}
			mu.Lock()
			resp.Components[chk.Name] = status
			mu.Unlock()
		}(chk)
	}
	wg.Wait()

	code := http.StatusOK
	for _, s := range resp.Components {
		if s != "ok" {
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}
	log.Debug("readiness checked", logger.String("status", resp.Status), logger.Count(len(c.checks)))
	writeJSON(w, code, resp)
}
