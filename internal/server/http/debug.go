package http

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"github.com/gorilla/mux"
)

// debugHandler serves runtime information and optional pprof profiles.
type debugHandler struct {
	pprofEnabled bool
	startTime    time.Time
	extra        func() map[string]interface{}
}

func (h *debugHandler) register(r *mux.Router) {
	r.HandleFunc("/debug/runtime", h.handleRuntime).Methods(http.MethodGet)

	if h.pprofEnabled {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		// named profiles (heap, goroutine, block, mutex) go through Index
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}
}

func (h *debugHandler) handleRuntime(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	info := map[string]interface{}{
		"go_version":     runtime.Version(),
		"num_goroutine":  runtime.NumGoroutine(),
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"pprof":          h.pprofEnabled,
		"memory": map[string]interface{}{
			"heap_alloc_mb":  float64(mem.HeapAlloc) / 1024 / 1024,
			"heap_inuse_mb":  float64(mem.HeapInuse) / 1024 / 1024,
			"heap_objects":   mem.HeapObjects,
			"num_gc":         mem.NumGC,
			"gc_pause_total": time.Duration(mem.PauseTotalNs).String(),
		},
	}
	if h.extra != nil {
		for k, v := range h.extra() {
			info[k] = v
		}
	}
	writeJSON(w, http.StatusOK, info)
}
