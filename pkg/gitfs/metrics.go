package gitfs

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	lastUpdateTimestamp *prometheus.GaugeVec
	updateCount         *prometheus.CounterVec
	updateLatency       *prometheus.HistogramVec
	findFileCount       *prometheus.CounterVec
	purgedRemotes       prometheus.Counter
)

// EnableMetrics registers the gitfs metrics with the given registerer.
// Each name below is exported with "<namespace>_" in front of it.
// Available metrics are...
//   - gitfs_last_update_timestamp (tags: remote) - timestamp of the last
//     successful fetch of a remote.
//   - gitfs_update_count (tags: remote, success) - count of fetch attempts.
//   - gitfs_update_latency_seconds (tags: remote) - fetch latency.
//   - gitfs_find_file_count (tags: remote, hit) - find_file lookups,
//     tagged with whether the fast-path blob-sha cache hit.
//   - gitfs_purged_remotes_total - count of remote cache dirs removed by
//     purge_cache.
func EnableMetrics(namespace string, registerer prometheus.Registerer) {
	lastUpdateTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gitfs_last_update_timestamp",
		Help:      "Timestamp of the last successful remote fetch",
	}, []string{"remote"})

	updateCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gitfs_update_count",
		Help:      "Count of fetch attempts per remote",
	}, []string{"remote", "success"})

	updateLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gitfs_update_latency_seconds",
		Help:      "Latency of a single remote fetch",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60, 90, 120, 150, 300},
	}, []string{"remote"})

	findFileCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gitfs_find_file_count",
		Help:      "Count of find_file lookups",
	}, []string{"remote", "hit"})

	purgedRemotes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gitfs_purged_remotes_total",
		Help:      "Count of remote cache directories removed by purge_cache",
	})

	registerer.MustRegister(lastUpdateTimestamp, updateCount, updateLatency, findFileCount, purgedRemotes)
}

func recordUpdate(remote string, success bool) {
	if updateCount == nil {
		return
	}
	if success {
		lastUpdateTimestamp.With(prometheus.Labels{"remote": remote}).Set(float64(time.Now().Unix()))
	}
	updateCount.With(prometheus.Labels{"remote": remote, "success": strconv.FormatBool(success)}).Inc()
}

func observeUpdateLatency(remote string, start time.Time) {
	if updateLatency == nil {
		return
	}
	updateLatency.WithLabelValues(remote).Observe(time.Since(start).Seconds())
}

func recordFindFile(remote string, cacheHit bool) {
	if findFileCount == nil {
		return
	}
	findFileCount.With(prometheus.Labels{"remote": remote, "hit": strconv.FormatBool(cacheHit)}).Inc()
}

func recordPurge(n int) {
	if purgedRemotes == nil {
		return
	}
	purgedRemotes.Add(float64(n))
}
