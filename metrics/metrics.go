// Package metrics exposes the counters and timers a patchmaker session
// reports through github.com/docker/go-metrics, the same exporter the
// pack's registry/cache/proxy layers use for their own prometheus
// namespaces (registry/storage/cache/metrics/prom.go,
// registry/proxy/proxymetrics.go).
package metrics

import (
	"github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// NamespacePrefix is the root of every exported metric name.
const NamespacePrefix = "patchmaker"

// Namespace is registered with the default prometheus registry on
// package init, the same pattern the pack's NotificationsNamespace and
// ProxyNamespace use.
var Namespace = metrics.NewNamespace(NamespacePrefix, "", nil)

// PackagesLoaded is a plain prometheus.Gauge registered directly against
// the default registerer, for the one reading (packages discovered in the
// current session) that doesn't fit go-metrics' labeled-counter/timer
// shape: go-metrics has no bare gauge constructor, so this single metric
// is grounded on github.com/prometheus/client_golang directly, the same
// client go-metrics itself builds on.
var PackagesLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: NamespacePrefix,
	Name:      "packages_loaded",
	Help:      "The number of package descriptors successfully loaded in the current session.",
})

var (
	// NodesInterned counts distinct (coord, hash) version nodes seen,
	// one per package named in the "package" label.
	NodesInterned = Namespace.NewLabeledCounter("nodes_interned_total", "The number of distinct package version nodes interned into the graph", "package")

	// EdgesAuthored counts new patch edges authored while processing a
	// package.
	EdgesAuthored = Namespace.NewLabeledCounter("edges_authored_total", "The number of patch edges authored", "package")

	// Materializations counts calls to VersionNode.Materialize, split by
	// "hit" (the node's bytes were already on disk from this session)
	// and "miss" (a plan had to be executed).
	Materializations = Namespace.NewLabeledCounter("materializations_total", "The number of node materializations, by cache outcome", "result")

	// BuildDuration times calls into the delta-build oracle.
	BuildDuration = Namespace.NewLabeledTimer("build_duration_seconds", "Time spent invoking the delta builder", "package")

	// CompressDuration times calls into the compression oracle.
	CompressDuration = Namespace.NewLabeledTimer("compress_duration_seconds", "Time spent invoking the compressor", "package")
)

func init() {
	metrics.Register(Namespace)
	prometheus.MustRegister(PackagesLoaded)
}
