// Package health serves liveness, status and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/rewired-gh/meterbot/internal/logger"
	"github.com/rewired-gh/meterbot/internal/models"
)

// StatusProvider reports the scheduling engine status
type StatusProvider interface {
	Status() models.EngineStatus
}

// Info describes the running service
type Info struct {
	Version string
	Meters  []string
	Mode    string
}

// Server provides health check and status endpoints.
type Server struct {
	status  StatusProvider
	metrics http.Handler
	info    Info
	mux     *http.ServeMux
}

// NewServer creates a health server. metrics may be nil.
func NewServer(status StatusProvider, metrics http.Handler, info Info) *Server {
	s := &Server{
		status:  status,
		metrics: metrics,
		info:    info,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on port until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Health check server listening on :%d", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Engine  string `json:"engine"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()
	resp := healthResponse{Status: "healthy", Service: "meterbot", Engine: st.State}
	code := http.StatusOK
	if st.State == "stopped" {
		resp.Status = "stopped"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type statusResponse struct {
	Service string   `json:"service"`
	Version string   `json:"version"`
	Mode    string   `json:"mode"`
	Meters  []string `json:"meters"`
	models.EngineStatus
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Service:      "meterbot",
		Version:      s.info.Version,
		Mode:         s.info.Mode,
		Meters:       s.info.Meters,
		EngineStatus: s.status.Status(),
	})
}

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>Meter Bot</title></head>
<body>
<h1>🔋 Electricity Meter Bot</h1>
<p><strong>Status:</strong> {{.Status.State}}</p>
<p><strong>Schedule:</strong> {{.Status.Schedule}}</p>
{{if not .Status.NextRun.IsZero}}<p><strong>Next check:</strong> {{.Status.NextRun.Format "2006-01-02 15:04 MST"}}</p>{{end}}
<p><strong>Meters:</strong> {{range $i, $m := .Meters}}{{if $i}}, {{end}}{{$m}}{{end}}</p>
{{with .Status.LastCycle}}<p><strong>Last check:</strong> {{.StartedAt.Format "2006-01-02 15:04 MST"}} ({{.Outcome}}, {{.Succeeded}}/{{.Meters}} ok)</p>{{else}}<p><strong>Last check:</strong> none yet</p>{{end}}
<hr>
<p><small>meterbot {{.Version}}</small></p>
</body>
</html>
`))

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	data := struct {
		Status  models.EngineStatus
		Meters  []string
		Version string
	}{s.status.Status(), s.info.Meters, s.info.Version}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTemplate.Execute(w, data); err != nil {
		logger.Error("Failed to render status page: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}
