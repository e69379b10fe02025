// Package metrics exposes the Prometheus registry used by the importer.
// Metrics are defined in the packages that record them (client, ratelimit,
// timeline, store, sink, notify, pagination) via promauto, so this package
// only serves them and documents them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all importer metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the matching gatherer for Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Fetch Metrics (pkg/client):
//   - bookmarks_fetch_requests_total{outcome} (Counter): page fetches by outcome (success, rate_limited, hard_failure)
//   - bookmarks_fetch_duration_seconds (Histogram): page fetch duration
//
// Backoff Metrics (pkg/ratelimit):
//   - bookmarks_rate_limit_waits_total (Counter): backoff waits started
//   - bookmarks_backoff_seconds (Histogram): backoff wait durations
//
// Extraction Metrics (pkg/timeline):
//   - bookmarks_extract_anomalies_total{reason} (Counter): pages treated as empty (invalid_json, no_entries); bad_timestamp counts items whose created_at did not parse
//
// Storage Metrics (pkg/store):
//   - bookmarks_items_imported_total (Counter): items appended to the collection
//   - bookmarks_store_errors_total{operation} (Counter): failed store operations
//
// Sink Metrics (pkg/sink):
//   - bookmarks_sink_requests_total{result} (Counter): downstream posts (stored, exists, rejected, error)
//
// Event Metrics (pkg/notify):
//   - bookmarks_events_dropped_total{transport} (Counter): events dropped for slow subscribers
//
// Run Metrics (pkg/pagination):
//   - bookmarks_runs_total{result} (Counter): runs by result (completed, not_ready, failed, exhausted, cancelled)
//
// Example Prometheus Queries:
//
//   # Rate-limited share of fetches
//   sum(rate(bookmarks_fetch_requests_total{outcome="rate_limited"}[15m])) /
//   sum(rate(bookmarks_fetch_requests_total[15m]))
//
//   # Import throughput
//   rate(bookmarks_items_imported_total[5m])
//
//   # Failed runs
//   increase(bookmarks_runs_total{result=~"failed|exhausted"}[1h]) > 0
