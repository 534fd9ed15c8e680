// ABOUTME: Parser for Trivy JSON scan reports.
// ABOUTME: Normalizes raw scan output into ScanReport values with defaulting and label caps.

package report

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jfeddern/TrivyScope/internal/types"
)

const (
	// maxTitleLen bounds free-text titles before they can reach label material.
	maxTitleLen = 100
	// maxFixedVersionLen bounds long version identifiers used as label values.
	maxFixedVersionLen = 64
)

// trivyReport mirrors the subset of Trivy's JSON output we consume.
type trivyReport struct {
	SchemaVersion int           `json:"SchemaVersion"`
	ArtifactName  string        `json:"ArtifactName"`
	CreatedAt     string        `json:"CreatedAt"`
	Results       []trivyResult `json:"Results"`
}

type trivyResult struct {
	Target          string               `json:"Target"`
	Class           string               `json:"Class"`
	Type            string               `json:"Type"`
	Vulnerabilities []trivyVulnerability `json:"Vulnerabilities"`
}

type trivyVulnerability struct {
	VulnerabilityID  string `json:"VulnerabilityID"`
	PkgName          string `json:"PkgName"`
	InstalledVersion string `json:"InstalledVersion"`
	FixedVersion     string `json:"FixedVersion"`
	Severity         string `json:"Severity"`
	Title            string `json:"Title"`
}

// Parse decodes one raw Trivy JSON report into a normalized ScanReport.
// Missing fields default rather than failing the parse: severity falls back
// to UNKNOWN, string fields to empty, and an unparsable CreatedAt drops the
// scan time while keeping the report usable. A structurally undecodable
// document returns an error so the subject is recorded as errored.
//
// The returned report's subject identity is the report's ArtifactName;
// callers that enumerated the subject themselves overwrite it.
func Parse(raw []byte) (*types.ScanReport, error) {
	var doc trivyReport
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, types.NewScanError(types.ErrorKindParse, fmt.Errorf("failed to decode trivy report: %w", err))
	}

	artifact := doc.ArtifactName
	if artifact == "" {
		artifact = "unknown"
	}

	rep := &types.ScanReport{
		Subject: types.ScanSubject{
			Identity:   artifact,
			SourceKind: types.SourceKindReport,
		},
		ScanTime: parseScanTime(doc.CreatedAt),
	}

	for _, result := range doc.Results {
		for _, vuln := range result.Vulnerabilities {
			rep.Findings = append(rep.Findings, types.VulnerabilityFinding{
				VulnerabilityID:  vuln.VulnerabilityID,
				PackageName:      vuln.PkgName,
				InstalledVersion: vuln.InstalledVersion,
				FixedVersion:     truncate(vuln.FixedVersion, maxFixedVersionLen),
				Severity:         types.ParseSeverity(vuln.Severity),
				Title:            truncate(vuln.Title, maxTitleLen),
			})
		}
	}

	return rep, nil
}

// parseScanTime parses an ISO-8601 timestamp with either a Z suffix or a
// numeric offset. Unparsable or absent timestamps yield nil.
func parseScanTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	return &ts
}

// truncate caps value at max bytes without splitting a multi-byte rune,
// so capped values stay valid UTF-8 for use as Prometheus label values.
func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
