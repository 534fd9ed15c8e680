// ABOUTME: Mock inventory and scan source for local development and testing.
// ABOUTME: Returns deterministic subjects and findings without a cluster or a trivy binary.

package mock

import (
	"context"
	"time"

	"github.com/jfeddern/TrivyScope/internal/types"
	"github.com/sirupsen/logrus"
)

// Inventory implements InventoryProvider with a fixed subject list.
type Inventory struct {
	logger *logrus.Logger
}

// NewInventory creates a mock inventory provider.
func NewInventory(logger *logrus.Logger) *Inventory {
	return &Inventory{logger: logger}
}

// Name returns the provider name.
func (m *Inventory) Name() string {
	return "mock-inventory"
}

// ListSubjects returns a deterministic set of image subjects.
func (m *Inventory) ListSubjects(ctx context.Context) ([]types.ScanSubject, error) {
	subjects := []types.ScanSubject{
		{Identity: "registry.example.com/frontend:v2.1.0", Scope: "production", SourceKind: types.SourceKindImage},
		{Identity: "registry.example.com/backend:v1.8.3", Scope: "production", SourceKind: types.SourceKindImage},
		{Identity: "registry.example.com/worker:v1.8.3", Scope: "staging", SourceKind: types.SourceKindImage},
		{Identity: "registry.example.com/migrations:v1.8.3", Scope: "staging", SourceKind: types.SourceKindImage},
	}

	m.logger.WithField("image_count", len(subjects)).Info("Mock inventory returned subjects")
	return subjects, nil
}

// Source implements ScanSource with canned findings per subject.
type Source struct {
	logger *logrus.Logger
}

// NewSource creates a mock scan source.
func NewSource(logger *logrus.Logger) *Source {
	return &Source{logger: logger}
}

// Name returns the source name.
func (m *Source) Name() string {
	return "mock-scanner"
}

// Scan returns deterministic findings so the exported metrics are stable
// across cycles.
func (m *Source) Scan(ctx context.Context, subject types.ScanSubject) (*types.ScanReport, error) {
	scanTime := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	return &types.ScanReport{
		Subject:  subject,
		ScanTime: &scanTime,
		Findings: []types.VulnerabilityFinding{
			{
				VulnerabilityID:  "CVE-2024-6119",
				PackageName:      "libssl3",
				InstalledVersion: "3.0.11-1",
				FixedVersion:     "3.0.14-1",
				Severity:         types.SeverityHigh,
				Title:            "openssl: Possible denial of service in X.509 name checks",
			},
			{
				VulnerabilityID:  "CVE-2023-4911",
				PackageName:      "libc6",
				InstalledVersion: "2.36-9",
				FixedVersion:     "2.36-9+deb12u3",
				Severity:         types.SeverityCritical,
				Title:            "glibc: buffer overflow in ld.so leading to privilege escalation",
			},
			{
				VulnerabilityID:  "CVE-2024-28085",
				PackageName:      "util-linux",
				InstalledVersion: "2.38.1-5",
				FixedVersion:     "",
				Severity:         types.SeverityMedium,
				Title:            "util-linux: wall command can leak passwords via escape sequences",
			},
		},
	}, nil
}
