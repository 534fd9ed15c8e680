// ABOUTME: Tests for Prometheus snapshot exposition.
// ABOUTME: Covers series rendering, error gauges, scrape idempotence, and label sanitization.

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jfeddern/TrivyScope/internal/report"
	"github.com/jfeddern/TrivyScope/internal/snapshot"
	"github.com/jfeddern/TrivyScope/internal/types"

	"github.com/sirupsen/logrus"
)

type fakeSnapshotProvider struct {
	snap        *snapshot.Snapshot
	publishedAt time.Time
}

func (f *fakeSnapshotProvider) CurrentSnapshot() (*snapshot.Snapshot, time.Time) {
	return f.snap, f.publishedAt
}

func testSnapshot() *snapshot.Snapshot {
	scanTime := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	return &snapshot.Snapshot{
		Counts: map[snapshot.CountKey]int{
			{Image: "app:1.0", Namespace: "local", Severity: types.SeverityHigh, Package: "libfoo"}: 2,
			{Image: "app:1.0", Namespace: "local", Severity: types.SeverityLow, Package: "libbar"}:  1,
		},
		Details: map[snapshot.DetailKey]struct{}{
			{
				VulnerabilityID:  "CVE-2024-0001",
				Image:            "app:1.0",
				Namespace:        "local",
				Package:          "libfoo",
				Severity:         types.SeverityHigh,
				InstalledVersion: "1.2.3",
				FixedVersion:     "1.2.4",
			}: {},
		},
		LastScanTimes: map[snapshot.SubjectKey]time.Time{
			{Image: "app:1.0", Namespace: "local"}: scanTime,
		},
		Errors: map[snapshot.SubjectKey]int{
			{Image: "app:1.0", Namespace: "local"}:    0,
			{Image: "broken:2.0", Namespace: "local"}: 1,
		},
		SubjectsProcessed: 1,
	}
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("scrape returned status %d, want %d", w.Code, http.StatusOK)
	}
	return w.Body.String()
}

func TestMetricsHandlerRendersSnapshot(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	provider := &fakeSnapshotProvider{snap: testSnapshot(), publishedAt: time.Now()}
	handler := NewMetricsHandler(provider, nil, logger)

	body := scrape(t, handler)

	expected := []string{
		`trivy_image_vulnerabilities{image="app:1.0",namespace="local",package="libfoo",severity="HIGH"} 2`,
		`trivy_image_vulnerabilities{image="app:1.0",namespace="local",package="libbar",severity="LOW"} 1`,
		`trivy_vulnerability_info{fixed_version="1.2.4",image="app:1.0",installed_version="1.2.3",namespace="local",package="libfoo",severity="HIGH",vulnerability_id="CVE-2024-0001"} 1`,
		`trivy_scan_errors_total{image="broken:2.0",namespace="local"} 1`,
		`trivy_scan_errors_total{image="app:1.0",namespace="local"} 0`,
		`trivy_images_scanned_total 1`,
	}
	for _, line := range expected {
		if !strings.Contains(body, line) {
			t.Errorf("exposition missing %q\nbody:\n%s", line, body)
		}
	}

	if !strings.Contains(body, `trivy_last_scan_timestamp{image="app:1.0",namespace="local"}`) {
		t.Errorf("exposition missing last scan timestamp series\nbody:\n%s", body)
	}
}

func TestMetricsHandlerBeforeFirstCycle(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	provider := &fakeSnapshotProvider{}
	handler := NewMetricsHandler(provider, nil, logger)

	body := scrape(t, handler)

	if strings.Contains(body, `trivy_image_vulnerabilities{`) {
		t.Errorf("no count series expected before the first cycle\nbody:\n%s", body)
	}
}

func TestMetricsHandlerScrapeIdempotence(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	provider := &fakeSnapshotProvider{snap: testSnapshot(), publishedAt: time.Now()}
	handler := NewMetricsHandler(provider, nil, logger)

	first := scrape(t, handler)
	second := scrape(t, handler)

	if first != second {
		t.Error("two scrapes of the same snapshot should be byte-identical")
	}
}

func TestMetricsHandlerMergesScanDurations(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	scanMetrics := NewScanMetrics()
	scanMetrics.ObserveScanDuration("app:1.0", 42*time.Second)

	provider := &fakeSnapshotProvider{snap: testSnapshot(), publishedAt: time.Now()}
	handler := NewMetricsHandler(provider, scanMetrics, logger)

	body := scrape(t, handler)

	if !strings.Contains(body, `trivy_scan_duration_seconds_bucket{image="app:1.0",le="60"} 1`) {
		t.Errorf("exposition missing scan duration bucket\nbody:\n%s", body)
	}
	if !strings.Contains(body, `trivy_scan_duration_seconds_count{image="app:1.0"} 1`) {
		t.Errorf("exposition missing scan duration count\nbody:\n%s", body)
	}
}

func TestMetricsHandlerRendersTruncatedMultibyteVersions(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	// A fixed version whose byte cap lands mid-rune must survive the whole
	// parse, build, and scrape path without tripping the registry's UTF-8
	// validation.
	version := strings.Repeat("a", 63) + "é"
	raw := []byte(`{
		"ArtifactName": "app:1.0",
		"CreatedAt": "2025-01-15T10:30:00Z",
		"Results": [{"Vulnerabilities": [
			{"VulnerabilityID": "CVE-2024-0007", "PkgName": "libqux", "InstalledVersion": "1.0.0", "FixedVersion": "` + version + `", "Severity": "HIGH"}
		]}]
	}`)

	rep, err := report.Parse(raw)
	if err != nil {
		t.Fatalf("Parse() returned unexpected error: %v", err)
	}
	rep.Subject.Scope = "local"

	snap := snapshot.Build([]*types.ScanReport{rep})
	provider := &fakeSnapshotProvider{snap: snap, publishedAt: time.Now()}
	handler := NewMetricsHandler(provider, nil, logger)

	body := scrape(t, handler)

	want := `fixed_version="` + strings.Repeat("a", 63) + `"`
	if !strings.Contains(body, want) {
		t.Errorf("exposition missing truncated fixed version label\nbody:\n%s", body)
	}
}

func TestMetricsHandlerSkipsUnusableSeries(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	// Severity values pass through to the registry verbatim, so an invalid
	// byte sequence there exercises the skip path. The rest of the snapshot
	// must still render.
	snap := testSnapshot()
	snap.Counts[snapshot.CountKey{
		Image:     "garbled:1.0",
		Namespace: "local",
		Severity:  types.Severity("HI\xffGH"),
		Package:   "libbad",
	}] = 3

	provider := &fakeSnapshotProvider{snap: snap, publishedAt: time.Now()}
	handler := NewMetricsHandler(provider, nil, logger)

	body := scrape(t, handler)

	if strings.Contains(body, "garbled:1.0") {
		t.Errorf("series with invalid label bytes should be skipped\nbody:\n%s", body)
	}
	if !strings.Contains(body, `trivy_image_vulnerabilities{image="app:1.0",namespace="local",package="libfoo",severity="HIGH"} 2`) {
		t.Errorf("healthy series should still render\nbody:\n%s", body)
	}
}

func TestSanitizeLabelValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "clean value", input: "app:1.0", expected: "app:1.0"},
		{name: "newlines replaced", input: "line1\nline2", expected: "line1 line2"},
		{name: "tabs and carriage returns", input: "a\tb\rc", expected: "a b c"},
		{name: "whitespace trimmed", input: "  padded  ", expected: "padded"},
		{name: "empty stays empty", input: "", expected: ""},
		{name: "invalid bytes stripped", input: "bad\xffbyte", expected: "badbyte"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeLabelValue(tt.input); got != tt.expected {
				t.Errorf("sanitizeLabelValue(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}

	long := strings.Repeat("x", 500)
	if got := sanitizeLabelValue(long); len(got) != 200 {
		t.Errorf("sanitizeLabelValue long input length = %d, want 200", len(got))
	}

	// The cap must back off to a rune boundary instead of splitting é.
	multibyte := strings.Repeat("x", 199) + "é"
	got := sanitizeLabelValue(multibyte)
	if !utf8.ValidString(got) {
		t.Errorf("sanitizeLabelValue(%q) = %q is not valid UTF-8", multibyte, got)
	}
	if want := strings.Repeat("x", 199); got != want {
		t.Errorf("sanitizeLabelValue multibyte cap = %q, want %q", got, want)
	}
}
