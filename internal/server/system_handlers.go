package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/macroecon/internal/cache"
	"github.com/aristath/macroecon/internal/database"
	"github.com/aristath/macroecon/internal/scheduler"
)

// SystemHandlers reports process, host and cache state.
type SystemHandlers struct {
	log     zerolog.Logger
	store   *cache.Store
	dbs     []*database.DB
	jobs    JobLister
	started time.Time
}

// NewSystemHandlers creates system handlers. Nil databases are skipped.
func NewSystemHandlers(log zerolog.Logger, store *cache.Store, dbs ...*database.DB) *SystemHandlers {
	h := &SystemHandlers{
		log:     log.With().Str("handler", "system").Logger(),
		store:   store,
		started: time.Now(),
	}
	for _, db := range dbs {
		if db != nil {
			h.dbs = append(h.dbs, db)
		}
	}
	return h
}

// CacheStatus summarises the cache store.
type CacheStatus struct {
	Dir          string  `json:"dir"`
	TTLSeconds   float64 `json:"ttl_seconds"`
	Entries      int     `json:"entries"`
	StaleEntries int     `json:"stale_entries"`
	SizeMB       float64 `json:"size_mb"`
}

// DiskStatus is the usage of the file system holding the cache.
type DiskStatus struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// SystemStatusResponse is returned by /api/system/status.
type SystemStatusResponse struct {
	Status        string                `json:"status"`
	UptimeSeconds float64               `json:"uptime_seconds"`
	GoVersion     string                `json:"go_version"`
	Goroutines    int                   `json:"goroutines"`
	MemoryPercent float64               `json:"memory_percent"`
	Cache         CacheStatus           `json:"cache"`
	Disk          *DiskStatus           `json:"disk,omitempty"`
	Databases     []database.Stats      `json:"databases,omitempty"`
	Jobs          []scheduler.JobStatus `json:"jobs,omitempty"`
}

const bytesPerMB = 1024 * 1024

// Snapshot collects the current status. Host metric failures are logged
// and leave their fields empty.
func (h *SystemHandlers) Snapshot() (SystemStatusResponse, error) {
	response := SystemStatusResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		Cache: CacheStatus{
			Dir:        h.store.Dir(),
			TTLSeconds: h.store.TTL().Seconds(),
		},
	}

	entries, err := h.store.ListEntries()
	if err != nil {
		return response, err
	}
	var size int64
	for _, e := range entries {
		size += e.Size
		if e.Stale {
			response.Cache.StaleEntries++
		}
	}
	response.Cache.Entries = len(entries)
	response.Cache.SizeMB = float64(size) / bytesPerMB

	if usage, err := disk.Usage(h.store.Dir()); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		response.Disk = &DiskStatus{
			TotalMB:     float64(usage.Total) / bytesPerMB,
			FreeMB:      float64(usage.Free) / bytesPerMB,
			UsedPercent: usage.UsedPercent,
		}
	}

	for _, db := range h.dbs {
		stats, err := db.Stats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to read database stats")
			continue
		}
		response.Databases = append(response.Databases, *stats)
	}

	if h.jobs != nil {
		response.Jobs = h.jobs.Status()
	}

	if memStat, err := mem.VirtualMemory(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		response.MemoryPercent = memStat.UsedPercent
	}

	return response, nil
}

// HandleSystemStatus returns the system status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	h.log.Debug().Msg("Getting system status")

	response, err := h.Snapshot()
	status := http.StatusOK
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read cache entries")
		response.Status = "degraded"
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode system status")
	}
}
