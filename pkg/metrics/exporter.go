package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/downfa11-org/cursus-queue/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(StoresAcquired, StoresReleased, StoresOpen, StoresCreated, HeaderWaitSeconds, HeaderTimeouts, StoreRecoveries)
	prometheus.MustRegister(CycleRolls, DirectoryScans, ExcerptsAppended, ExcerptsRead, AppendLatency)
	prometheus.MustRegister(DiskSpaceWarnings, RetentionDeletes, CursorsSwept)
}

// StartMetricsServer serves /metrics on port in the background. The returned
// server is for shutdown.
func StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		util.Info("[METRICS] Prometheus exporter listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Error("[METRICS] Failed to start metrics server: %v", err)
		}
	}()
	return srv
}

// PushAppend records one appended record.
func PushAppend(elapsedSeconds float64) {
	ExcerptsAppended.Inc()
	AppendLatency.Observe(elapsedSeconds)
}

// StoreMapped and StoreUnmapped track the open-store gauge.
func StoreMapped() {
	StoresOpen.Inc()
}

func StoreUnmapped() {
	StoresOpen.Dec()
}
