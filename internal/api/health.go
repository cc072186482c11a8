package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse represents a comprehensive health check response
type HealthCheckResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp string       `json:"timestamp"`
	VersionInfo
	Uptime    string                 `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks"`
	System    SystemInfo             `json:"system"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HealthCheck represents an individual health check
type HealthCheck struct {
	Status      HealthStatus `json:"status"`
	Message     string       `json:"message,omitempty"`
	LastChecked string       `json:"last_checked"`
	Duration    string       `json:"duration,omitempty"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	NumCPU        int    `json:"num_cpu"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
	GCCycles      uint32 `json:"gc_cycles"`
}

// handleHealthCheck reports storage health plus process information.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	db := s.checkDatabaseHealth(r.Context())
	status := db.Status

	response := HealthCheckResponse{
		Status:      status,
		Timestamp:   s.now().UTC().Format(time.RFC3339),
		VersionInfo: GetVersionInfo(),
		Uptime:      time.Since(s.startTime).String(),
		Checks:      map[string]HealthCheck{"database": db},
		System:      getSystemInfo(),
		RequestID:   middleware.GetReqID(r.Context()),
	}

	statusCode := http.StatusOK
	if status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, response)
}

// handleVersion reports the build the process is running.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, GetVersionInfo())
}

// handleReadiness answers 200 once storage is reachable.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	db := s.checkDatabaseHealth(r.Context())
	ready := db.Status == HealthStatusHealthy

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
		s.logger.Warn("readiness check failed", "message", db.Message)
	}
	writeJSON(w, statusCode, map[string]any{
		"ready":      ready,
		"message":    db.Message,
		"timestamp":  s.now().UTC().Format(time.RFC3339),
		"version":    Version,
		"request_id": middleware.GetReqID(r.Context()),
	})
}

// handleLiveness provides liveness probe endpoint
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"alive":      true,
		"timestamp":  s.now().UTC().Format(time.RFC3339),
		"version":    Version,
		"uptime":     time.Since(s.startTime).String(),
		"request_id": middleware.GetReqID(r.Context()),
	})
}

func (s *Server) checkDatabaseHealth(ctx context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{Status: HealthStatusHealthy, Message: "Database connection healthy"}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if s.svc == nil {
		check.Status = HealthStatusUnhealthy
		check.Message = "Database not initialized"
	} else if err := s.svc.Ping(ctx); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = "Database ping failed: " + err.Error()
	}

	check.LastChecked = s.now().UTC().Format(time.RFC3339)
	check.Duration = time.Since(start).String()
	return check
}

func getSystemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		MemoryAlloc:   m.Alloc,
		GCCycles:      m.NumGC,
	}
}
