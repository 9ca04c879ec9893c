package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

// startOpsListener serves the operational endpoints on a separate port so
// they stay off the public API surface: liveness, build info, and
// Prometheus metrics.
func (api *API) startOpsListener() *http.Server {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", api.healthzHandler).Methods("GET")
	router.HandleFunc("/varz", api.varzHandler).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(api.metrics.Registry(), promhttp.HandlerOpts{})).Methods("GET")

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", api.config.Host, api.config.OpsPort),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			api.logger.Errorf("ops listener failed: %v", err)
		}
	}()
	api.logger.Infof("ops listener on %s:%d", api.config.Host, api.config.OpsPort)
	return srv
}

func (api *API) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if err := api.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "unhealthy: %v\n", err)
		return
	}
	fmt.Fprintln(w, "ok")
}

func (api *API) varzHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"uptime_seconds": int(time.Since(startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"heap_bytes":     mem.HeapAlloc,
		"connectors":     api.manager.Active(),
		"tools":          api.registry.Names(),
	})
}
