package api

import (
	"net/http"
	"runtime"
	"time"
)

// Snapshot is the JSON body of GET /metrics: a quick health read for the
// pick-station screen. Prometheus scrapes /metrics/prometheus instead.
type Snapshot struct {
	Timestamp     time.Time `json:"timestamp"`
	Version       string    `json:"version"`
	UptimeSeconds int64     `json:"uptime_seconds"`

	LEDs struct {
		// Registered is -1 when the registry could not be read.
		Registered int `json:"registered"`
	} `json:"leds"`
	WebSocket struct {
		Clients int `json:"clients"`
	} `json:"websocket"`
	MQTT struct {
		Enabled   bool `json:"enabled"`
		Connected bool `json:"connected"`
	} `json:"mqtt"`
	Process struct {
		Goroutines int     `json:"goroutines"`
		HeapMiB    float64 `json:"heap_mib"`
		GCCycles   uint32  `json:"gc_cycles"`
	} `json:"process"`
	Database *PoolStats `json:"database,omitempty"`
}

// PoolStats is the part of sql.DBStats worth watching on a single-writer
// SQLite pool.
type PoolStats struct {
	Open      int           `json:"open"`
	InUse     int           `json:"in_use"`
	WaitCount int64         `json:"wait_count"`
	WaitTime  time.Duration `json:"wait_ns"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := Snapshot{
		Timestamp:     time.Now().UTC().Truncate(time.Second),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
	}

	snap.LEDs.Registered = -1
	if regs, err := s.locator.Registrations(r.Context()); err != nil {
		s.logger.Warn("metrics: reading registrations failed", "error", err)
	} else {
		snap.LEDs.Registered = len(regs)
	}

	snap.WebSocket.Clients = s.hub.ClientCount()
	if s.mqtt != nil {
		snap.MQTT.Enabled = true
		snap.MQTT.Connected = s.mqtt.IsConnected()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	snap.Process.Goroutines = runtime.NumGoroutine()
	snap.Process.HeapMiB = float64(mem.HeapAlloc) / (1 << 20)
	snap.Process.GCCycles = mem.NumGC

	if s.db != nil {
		st := s.db.Stats()
		snap.Database = &PoolStats{
			Open:      st.OpenConnections,
			InUse:     st.InUse,
			WaitCount: st.WaitCount,
			WaitTime:  st.WaitDuration,
		}
	}

	writeJSON(w, http.StatusOK, snap)
}
