package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BytesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extlog_segment_read_bytes_total",
			Help: "Bytes read through segments, by segment type",
		},
		[]string{"type"},
	)

	BytesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extlog_segment_written_bytes_total",
			Help: "Bytes written through segments, by segment type",
		},
		[]string{"type"},
	)

	HardErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extlog_segment_hard_errors_total",
			Help: "Failed segment operations, by segment type",
		},
		[]string{"type"},
	)

	Clones = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extlog_log_clones_total",
			Help: "Log segment clones, by copy strategy",
		},
		[]string{"strategy"},
	)

	Merges = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "extlog_log_merges_total",
		Help: "Log segments merged into their base",
	})

	MergedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "extlog_log_merged_bytes_total",
		Help: "Bytes copied from logs into their base during merges",
	})

	ReplayedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "extlog_log_replayed_records_total",
		Help: "Range records replayed while loading log segments",
	})

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extlog_cache_lookups_total",
			Help: "Block cache lookups, by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(BytesRead, BytesWritten, HardErrors)
	prometheus.MustRegister(Clones, Merges, MergedBytes, ReplayedRecords, CacheLookups)
}

// Read records n bytes read from a segment of type typ.
func Read(typ string, n int64) {
	BytesRead.WithLabelValues(typ).Add(float64(n))
}

func Written(typ string, n int64) {
	BytesWritten.WithLabelValues(typ).Add(float64(n))
}

func Failed(typ string) {
	HardErrors.WithLabelValues(typ).Inc()
}
