// ABOUTME: Prometheus metrics exposition for Trivy scan snapshots.
// ABOUTME: Renders each scrape from a freshly built registry so scrapers never see a mix of two cycles.

package metrics

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jfeddern/TrivyScope/internal/snapshot"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// SnapshotProvider yields the most recently published snapshot.
type SnapshotProvider interface {
	CurrentSnapshot() (*snapshot.Snapshot, time.Time)
}

// ScanMetrics holds process-lifetime collectors that accumulate across
// cycles, unlike the per-cycle snapshot families. It keeps its own registry
// that the metrics handler merges into every scrape.
type ScanMetrics struct {
	registry     *prometheus.Registry
	scanDuration *prometheus.HistogramVec
}

// NewScanMetrics creates the persistent scan telemetry collectors.
func NewScanMetrics() *ScanMetrics {
	m := &ScanMetrics{
		registry: prometheus.NewRegistry(),
		scanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trivy_scan_duration_seconds",
				Help:    "Time taken to scan an image",
				Buckets: []float64{5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"image"},
		),
	}
	m.registry.MustRegister(m.scanDuration)
	return m
}

// ObserveScanDuration records one scan attempt's duration, success or not.
func (m *ScanMetrics) ObserveScanDuration(image string, duration time.Duration) {
	m.scanDuration.WithLabelValues(sanitizeLabelValue(image)).Observe(duration.Seconds())
}

// Gatherer exposes the persistent registry for merging into a scrape.
func (m *ScanMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

type MetricsHandler struct {
	provider    SnapshotProvider
	scanMetrics *ScanMetrics
	logger      *logrus.Logger
}

func NewMetricsHandler(provider SnapshotProvider, scanMetrics *ScanMetrics, logger *logrus.Logger) *MetricsHandler {
	return &MetricsHandler{
		provider:    provider,
		scanMetrics: scanMetrics,
		logger:      logger,
	}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Build a new registry from the current snapshot for this request. The
	// snapshot itself is immutable after publish, so two concurrent scrapes
	// can populate their own registries without coordination.
	registry := prometheus.NewRegistry()

	vulnerabilityCount := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trivy_image_vulnerabilities",
			Help: "Number of vulnerabilities found in container images",
		},
		[]string{"image", "namespace", "severity", "package"},
	)

	vulnerabilityInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trivy_vulnerability_info",
			Help: "Detailed vulnerability information (value is always 1; use labels for metadata)",
		},
		[]string{"vulnerability_id", "image", "namespace", "package", "severity", "installed_version", "fixed_version"},
	)

	lastScanTime := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trivy_last_scan_timestamp",
			Help: "Timestamp of last Trivy scan",
		},
		[]string{"image", "namespace"},
	)

	scanErrors := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trivy_scan_errors_total",
			Help: "Scan errors per image (1=errored this cycle, 0=clean)",
		},
		[]string{"image", "namespace"},
	)

	imagesScanned := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trivy_images_scanned_total",
			Help: "Total number of images scanned in the last cycle",
		},
	)

	registry.MustRegister(vulnerabilityCount)
	registry.MustRegister(vulnerabilityInfo)
	registry.MustRegister(lastScanTime)
	registry.MustRegister(scanErrors)
	registry.MustRegister(imagesScanned)

	// A snapshot entry with label values the registry rejects is logged and
	// skipped so one bad series never aborts the whole scrape.
	setGauge := func(vec *prometheus.GaugeVec, value float64, labels ...string) {
		gauge, err := vec.GetMetricWithLabelValues(labels...)
		if err != nil {
			m.logger.WithFields(logrus.Fields{
				"component": "metrics",
				"labels":    labels,
			}).WithError(err).Warn("Skipping series with unusable label values")
			return
		}
		gauge.Set(value)
	}

	snap, _ := m.provider.CurrentSnapshot()
	if snap != nil {
		for key, count := range snap.Counts {
			setGauge(vulnerabilityCount, float64(count),
				sanitizeLabelValue(key.Image),
				sanitizeLabelValue(key.Namespace),
				string(key.Severity),
				sanitizeLabelValue(key.Package),
			)
		}

		for key := range snap.Details {
			setGauge(vulnerabilityInfo, 1,
				sanitizeLabelValue(key.VulnerabilityID),
				sanitizeLabelValue(key.Image),
				sanitizeLabelValue(key.Namespace),
				sanitizeLabelValue(key.Package),
				string(key.Severity),
				sanitizeLabelValue(key.InstalledVersion),
				sanitizeLabelValue(key.FixedVersion),
			)
		}

		for key, ts := range snap.LastScanTimes {
			setGauge(lastScanTime, float64(ts.Unix()),
				sanitizeLabelValue(key.Image),
				sanitizeLabelValue(key.Namespace),
			)
		}

		for key, errored := range snap.Errors {
			setGauge(scanErrors, float64(errored),
				sanitizeLabelValue(key.Image),
				sanitizeLabelValue(key.Namespace),
			)
		}

		imagesScanned.Set(float64(snap.SubjectsProcessed))
	}

	gatherers := prometheus.Gatherers{registry}
	if m.scanMetrics != nil {
		gatherers = append(gatherers, m.scanMetrics.Gatherer())
	}

	promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// sanitizeLabelValue cleans strings for use as Prometheus label values.
// Invalid UTF-8 is stripped and the cap never splits a multi-byte rune,
// since the registry rejects label values that are not valid UTF-8.
func sanitizeLabelValue(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\t", " ")
	value = strings.ToValidUTF8(value, "")

	// Backstop cap; parsing already bounds the fields it controls.
	if len(value) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(value[cut]) {
			cut--
		}
		value = value[:cut]
	}

	return strings.TrimSpace(value)
}

// CreateMetricsHandler creates a standard HTTP handler for use with http.ServeMux.
func CreateMetricsHandler(provider SnapshotProvider, scanMetrics *ScanMetrics, logger *logrus.Logger) http.HandlerFunc {
	handler := NewMetricsHandler(provider, scanMetrics, logger)
	return handler.ServeHTTP
}
