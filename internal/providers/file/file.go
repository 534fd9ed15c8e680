// ABOUTME: File-backed provider reading pre-produced Trivy JSON reports from a directory.
// ABOUTME: Implements both subject enumeration and scan-report retrieval without subprocesses.

package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jfeddern/TrivyScope/internal/report"
	"github.com/jfeddern/TrivyScope/internal/types"
	"github.com/sirupsen/logrus"
)

// localScope is the scope label applied to report-file subjects so both
// operating modes share one label schema.
const localScope = "local"

// Provider enumerates report files in a directory and serves their contents
// as scan reports. A missing, unreadable, or empty directory is non-fatal:
// enumeration yields an empty set and the cycle still publishes.
type Provider struct {
	reportsDir string
	logger     *logrus.Logger
}

// NewProvider creates a file-backed provider for the given reports directory.
func NewProvider(reportsDir string, logger *logrus.Logger) *Provider {
	return &Provider{
		reportsDir: reportsDir,
		logger:     logger,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "reports-dir"
}

// ListSubjects lists the *.json report artifacts currently in the directory.
func (p *Provider) ListSubjects(ctx context.Context) ([]types.ScanSubject, error) {
	logger := p.logger.WithField("operation", "list_report_files")

	entries, err := os.ReadDir(p.reportsDir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.WithField("reports_dir", p.reportsDir).Warn("Reports directory does not exist, waiting for first scan")
			return nil, nil
		}
		return nil, types.NewScanError(types.ErrorKindSourceUnavailable,
			fmt.Errorf("failed to read reports directory %q: %w", p.reportsDir, err))
	}

	var subjects []types.ScanSubject
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		subjects = append(subjects, types.ScanSubject{
			Identity:   filepath.Join(p.reportsDir, entry.Name()),
			Scope:      localScope,
			SourceKind: types.SourceKindReport,
		})
	}

	if len(subjects) == 0 {
		logger.Info("No Trivy reports found")
	} else {
		logger.WithField("report_count", len(subjects)).Info("Found Trivy reports")
	}

	return subjects, nil
}

// Scan reads and parses one report file. The subject identity coming in is
// the file path; the returned report's identity is the artifact name the
// report declares, which is what the metrics key on.
func (p *Provider) Scan(ctx context.Context, subject types.ScanSubject) (*types.ScanReport, error) {
	raw, err := os.ReadFile(subject.Identity)
	if err != nil {
		return nil, types.NewScanError(types.ErrorKindSourceUnavailable,
			fmt.Errorf("failed to read report file %q: %w", subject.Identity, err))
	}

	rep, err := report.Parse(raw)
	if err != nil {
		return nil, err
	}

	rep.Subject.Scope = subject.Scope
	return rep, nil
}
