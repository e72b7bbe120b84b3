package handlers

import (
	"net/http"
	"sync"
	"time"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime initializes the server start time.
// Should be called when the server starts.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// Check reports whether one dependency is ready. A nil error means healthy.
type Check struct {
	Name string
	Fn   func() error
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  int64             `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthHandler returns a health check handler. Any failing check turns the
// response into 503 with status "degraded".
func HealthHandler(version string, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(0)
		if !startTime.IsZero() {
			uptime = int64(time.Since(startTime).Seconds())
		}

		resp := HealthResponse{
			Status:  "ok",
			Version: version,
			Uptime:  uptime,
		}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
			for _, c := range checks {
				if err := c.Fn(); err != nil {
					resp.Checks[c.Name] = err.Error()
					resp.Status = "degraded"
					status = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[c.Name] = "ok"
			}
		}

		SendJSON(w, status, resp)
	}
}
