// ABOUTME: Common types shared across the TrivyScope system.
// ABOUTME: Defines data structures for scan subjects, findings, and reports.

package types

import (
	"fmt"
	"time"
)

// SourceKind distinguishes how a subject's scan data is obtained.
type SourceKind string

const (
	// SourceKindImage means the subject is a container image scanned with the Trivy CLI.
	SourceKindImage SourceKind = "image"
	// SourceKindReport means the subject is a pre-produced Trivy JSON report on disk.
	SourceKindReport SourceKind = "report"
)

// ScanSubject identifies one thing to scan during a cycle.
// For image subjects Identity is the image reference and Scope the namespace;
// for report subjects Identity is the artifact name from the report.
type ScanSubject struct {
	Identity   string
	Scope      string
	SourceKind SourceKind
}

// Key returns the dedup key for a subject within a cycle.
func (s ScanSubject) Key() string {
	return s.Identity + "|" + s.Scope
}

// Severity is a normalized vulnerability severity level.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityUnknown  Severity = "UNKNOWN"
)

// ParseSeverity normalizes a raw severity string, defaulting to UNKNOWN.
func ParseSeverity(raw string) Severity {
	switch Severity(raw) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(raw)
	default:
		return SeverityUnknown
	}
}

// VulnerabilityFinding represents a single vulnerability finding tied to a
// package within a subject's scan. Never mutated after parsing.
type VulnerabilityFinding struct {
	VulnerabilityID  string
	PackageName      string
	InstalledVersion string
	FixedVersion     string
	Severity         Severity
	Title            string
}

// ScanReport is the normalized result of one scan attempt for one subject.
// A report with Error set carries no findings but still surfaces the subject
// in error-tracking metrics.
type ScanReport struct {
	Subject  ScanSubject
	ScanTime *time.Time
	Findings []VulnerabilityFinding
	Error    ErrorKind
}

// Errored reports whether the scan attempt failed.
func (r *ScanReport) Errored() bool {
	return r.Error != ""
}

// ErrorKind classifies scan failures for metrics and logs.
type ErrorKind string

const (
	// ErrorKindParse means the scan output was structurally undecodable.
	ErrorKindParse ErrorKind = "parse_error"
	// ErrorKindSourceUnavailable means the report directory or workload inventory was unreachable.
	ErrorKindSourceUnavailable ErrorKind = "source_unavailable"
	// ErrorKindScanTimeout means the external scan exceeded its deadline.
	ErrorKindScanTimeout ErrorKind = "scan_timeout"
	// ErrorKindScanProcess means the external scan process exited with a failure.
	ErrorKindScanProcess ErrorKind = "scan_process_error"
)

// ScanError carries an ErrorKind across the scan-source boundary so callers
// can record the failure class without inspecting raw errors.
type ScanError struct {
	Kind ErrorKind
	Err  error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// NewScanError wraps err with a failure classification.
func NewScanError(kind ErrorKind, err error) *ScanError {
	return &ScanError{Kind: kind, Err: err}
}
