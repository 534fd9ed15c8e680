// ABOUTME: Snapshot aggregation of a cycle's scan reports into metric value sets.
// ABOUTME: A Snapshot is built whole and swapped in atomically; it is never mutated after Build.

package snapshot

import (
	"time"

	"github.com/jfeddern/TrivyScope/internal/types"
)

// CountKey addresses one vulnerability count value.
type CountKey struct {
	Image     string
	Namespace string
	Severity  types.Severity
	Package   string
}

// DetailKey addresses one vulnerability presence entry. Only bounded
// identifiers appear here; free text like titles is kept out of label
// material entirely.
type DetailKey struct {
	VulnerabilityID  string
	Image            string
	Namespace        string
	Package          string
	Severity         types.Severity
	InstalledVersion string
	FixedVersion     string
}

// SubjectKey addresses per-subject values (last scan time, error flag).
type SubjectKey struct {
	Image     string
	Namespace string
}

// Snapshot is the complete set of exported metric values for one cycle.
// It is either fully built or not published; readers never see a partial one.
type Snapshot struct {
	Counts            map[CountKey]int
	Details           map[DetailKey]struct{}
	LastScanTimes     map[SubjectKey]time.Time
	Errors            map[SubjectKey]int
	SubjectsProcessed int
	BuiltAt           time.Time
}

// Build aggregates one cycle's scan reports into a Snapshot. Reports with an
// error contribute only an error flag; reports without one contribute counts
// grouped by (subject, severity, package), per-finding detail presence, and
// the subject's last scan time when present. SubjectsProcessed counts only
// reports that produced usable data.
func Build(reports []*types.ScanReport) *Snapshot {
	snap := &Snapshot{
		Counts:        make(map[CountKey]int),
		Details:       make(map[DetailKey]struct{}),
		LastScanTimes: make(map[SubjectKey]time.Time),
		Errors:        make(map[SubjectKey]int),
		BuiltAt:       time.Now(),
	}

	for _, rep := range reports {
		if rep == nil {
			continue
		}

		subject := SubjectKey{
			Image:     rep.Subject.Identity,
			Namespace: rep.Subject.Scope,
		}

		if rep.Errored() {
			snap.Errors[subject] = 1
			continue
		}

		snap.Errors[subject] = 0
		snap.SubjectsProcessed++

		if rep.ScanTime != nil {
			snap.LastScanTimes[subject] = *rep.ScanTime
		}

		for _, finding := range rep.Findings {
			snap.Counts[CountKey{
				Image:     subject.Image,
				Namespace: subject.Namespace,
				Severity:  finding.Severity,
				Package:   finding.PackageName,
			}]++

			snap.Details[DetailKey{
				VulnerabilityID:  finding.VulnerabilityID,
				Image:            subject.Image,
				Namespace:        subject.Namespace,
				Package:          finding.PackageName,
				Severity:         finding.Severity,
				InstalledVersion: finding.InstalledVersion,
				FixedVersion:     finding.FixedVersion,
			}] = struct{}{}
		}
	}

	return snap
}
