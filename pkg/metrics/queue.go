package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	StoresAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_stores_acquired_total",
		Help: "Cycle stores handed out by the pool, cached or freshly mapped.",
	})
	StoresReleased = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_stores_released_total",
		Help: "Store references returned to the pool.",
	})
	StoresOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cq_stores_open",
		Help: "Cycle files currently mapped by this process.",
	})
	StoresCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_store_headers_written_total",
		Help: "First headers written by this process.",
	})
	HeaderWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cq_store_header_wait_seconds",
		Help:    "Time spent waiting for another writer to finish a file header.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	HeaderTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_store_header_timeouts_total",
		Help: "Acquires that gave up waiting for a READY header.",
	})
	StoreRecoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_store_recoveries_total",
		Help: "Write locks taken over from a writer that stopped responding.",
	})
	CycleRolls = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_cycle_rolls_total",
		Help: "Appender moves to a newer cycle.",
	})
	DirectoryScans = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_directory_scans_total",
		Help: "Queue directory listings performed to refresh cycle bounds.",
	})
	ExcerptsAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_excerpts_appended_total",
		Help: "Records appended.",
	})
	ExcerptsRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_excerpts_read_total",
		Help: "Records returned to tailers.",
	})
	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cq_append_latency_seconds",
		Help:    "Latency of a single append including any roll.",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
	})
	DiskSpaceWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_disk_space_warnings_total",
		Help: "Cycle file creations that found the volume low on space.",
	})
	RetentionDeletes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_retention_deleted_files_total",
		Help: "Cycle files soft-deleted by retention.",
	})
	CursorsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cq_cursors_swept_total",
		Help: "Idle appenders and tailers whose store reference was released by the sweeper.",
	})
)
