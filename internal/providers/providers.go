// ABOUTME: Provider interfaces for subject enumeration and scan data sources.
// ABOUTME: Defines contracts so inventories and scanners are swappable and testable with fakes.

package providers

import (
	"context"

	"github.com/jfeddern/TrivyScope/internal/types"
)

// InventoryProvider enumerates the set of subjects to scan this cycle.
type InventoryProvider interface {
	Name() string
	ListSubjects(ctx context.Context) ([]types.ScanSubject, error)
}

// ScanSource obtains a normalized scan report for one subject. Failures are
// returned as errors (ideally *types.ScanError) and classified by the caller;
// a source never aborts anything beyond its own subject.
type ScanSource interface {
	Name() string
	Scan(ctx context.Context, subject types.ScanSubject) (*types.ScanReport, error)
}
