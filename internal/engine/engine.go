// ABOUTME: Reconciliation engine driving the enumerate-scan-aggregate-publish cycle.
// ABOUTME: Publishes immutable snapshots, isolates per-subject failures, and latches readiness.

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfeddern/TrivyScope/internal/cache"
	"github.com/jfeddern/TrivyScope/internal/metrics"
	"github.com/jfeddern/TrivyScope/internal/providers"
	"github.com/jfeddern/TrivyScope/internal/snapshot"
	"github.com/jfeddern/TrivyScope/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const (
	// maxConcurrentScans bounds in-flight scan executions within a cycle.
	maxConcurrentScans = 10
	// reportCacheTTL controls how long successful image scans are reused.
	reportCacheTTL = 30 * time.Minute
)

// Config holds configuration for the reconciliation engine.
type Config struct {
	Mode         string
	Port         int
	ReportsDir   string
	Namespace    string
	ScanInterval time.Duration
	MockMode     bool
}

// Engine runs scan cycles sequentially in the background and exposes the
// latest snapshot to concurrent HTTP readers. Snapshot publication is the
// single serialization point between the two: a cycle builds a complete
// Snapshot off to the side and swaps it in under the mutex, so readers see
// either the fully-old or fully-new cycle, never a mixture.
type Engine struct {
	inventory   providers.InventoryProvider
	source      providers.ScanSource
	cache       *cache.ReportCache
	scanMetrics *metrics.ScanMetrics
	config      *Config
	logger      *logrus.Logger

	mutex         sync.RWMutex
	current       *snapshot.Snapshot
	lastCycleTime time.Time

	// ready latches true after the first publish and never resets.
	ready atomic.Bool
}

// NewEngine creates a reconciliation engine.
func NewEngine(inventory providers.InventoryProvider, source providers.ScanSource, scanMetrics *metrics.ScanMetrics, config *Config, logger *logrus.Logger) *Engine {
	return &Engine{
		inventory:   inventory,
		source:      source,
		cache:       cache.NewReportCache(reportCacheTTL, logger),
		scanMetrics: scanMetrics,
		config:      config,
		logger:      logger,
	}
}

// Start runs cycles until the context is cancelled: one immediately, then one
// per interval. A failed cycle keeps the previous snapshot exposed and waits
// the full interval before retrying.
func (e *Engine) Start(ctx context.Context) {
	logger := e.logger.WithField("component", "cycle_scheduler")

	e.runCycle(ctx)

	ticker := time.NewTicker(e.config.ScanInterval)
	defer ticker.Stop()

	logger.WithField("interval", e.config.ScanInterval).Info("Starting periodic scan cycles")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scan engine stopping")
			return
		case <-ticker.C:
			e.runCycle(ctx)
		}
	}
}

// runCycle executes one enumerate-scan-build-publish pass. Nothing inside it
// may take the process down: enumeration failure publishes an empty snapshot,
// per-subject failures become errored reports, and a panic is logged and
// swallowed at this boundary.
func (e *Engine) runCycle(ctx context.Context) {
	logger := e.logger.WithField("operation", "scan_cycle")

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Scan cycle panicked, keeping previous snapshot")
		}
	}()

	startTime := time.Now()
	logger.Info("Starting scan cycle")

	subjects := e.enumerateSubjects(ctx, logger)
	reports := e.scanAll(ctx, subjects)
	snap := snapshot.Build(reports)

	e.publish(snap)

	logger.WithFields(logrus.Fields{
		"duration":           time.Since(startTime),
		"subjects_found":     len(subjects),
		"subjects_processed": snap.SubjectsProcessed,
	}).Info("Scan cycle completed")
}

// enumerateSubjects lists and dedups this cycle's subjects. Inventory failure
// yields an empty set so the cycle still publishes and the failure shows up
// as trivy_images_scanned_total 0.
func (e *Engine) enumerateSubjects(ctx context.Context, logger *logrus.Entry) []types.ScanSubject {
	listed, err := e.inventory.ListSubjects(ctx)
	if err != nil {
		logger.WithError(err).WithField("provider", e.inventory.Name()).
			Warn("Subject enumeration failed, publishing empty snapshot")
		return nil
	}

	seen := make(map[string]bool, len(listed))
	subjects := make([]types.ScanSubject, 0, len(listed))
	for _, subject := range listed {
		if seen[subject.Key()] {
			continue
		}
		seen[subject.Key()] = true
		subjects = append(subjects, subject)
	}

	return subjects
}

// scanAll executes scans for all subjects with bounded concurrency and
// collects their reports. One subject's failure never affects another.
func (e *Engine) scanAll(ctx context.Context, subjects []types.ScanSubject) []*types.ScanReport {
	sem := semaphore.NewWeighted(maxConcurrentScans)
	var wg sync.WaitGroup
	var mu sync.Mutex

	reports := make([]*types.ScanReport, 0, len(subjects))

	for _, subject := range subjects {
		wg.Add(1)
		go func(subject types.ScanSubject) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				// Context cancelled mid-cycle; shutdown is in progress.
				return
			}
			defer sem.Release(1)

			report := e.executeScanSafely(ctx, subject)

			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		}(subject)
	}

	wg.Wait()
	return reports
}

// executeScanSafely contains panics from a misbehaving scan source; the
// subject is recorded as errored and the rest of the cycle proceeds.
func (e *Engine) executeScanSafely(ctx context.Context, subject types.ScanSubject) (report *types.ScanReport) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"subject": subject.Identity,
				"panic":   r,
			}).Error("Scan panicked")
			report = &types.ScanReport{Subject: subject, Error: types.ErrorKindScanProcess}
		}
	}()

	return e.executeScan(ctx, subject)
}

// executeScan obtains one subject's report, converting any failure into an
// errored report rather than propagating it. Scan duration is observed for
// image subjects regardless of outcome.
func (e *Engine) executeScan(ctx context.Context, subject types.ScanSubject) *types.ScanReport {
	fromImage := subject.SourceKind == types.SourceKindImage

	if fromImage {
		if cached := e.cache.Get(subject); cached != nil {
			return cached
		}
	}

	startTime := time.Now()
	report, err := e.source.Scan(ctx, subject)
	if fromImage && e.scanMetrics != nil {
		e.scanMetrics.ObserveScanDuration(subject.Identity, time.Since(startTime))
	}

	if err != nil {
		kind := classifyScanError(err)
		e.logger.WithError(err).WithFields(logrus.Fields{
			"subject":    subject.Identity,
			"scope":      subject.Scope,
			"error_kind": kind,
		}).Error("Scan failed")

		return &types.ScanReport{Subject: subject, Error: kind}
	}

	if fromImage {
		e.cache.Set(subject, report)
	}

	return report
}

func classifyScanError(err error) types.ErrorKind {
	var scanErr *types.ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Kind
	}
	return types.ErrorKindScanProcess
}

// publish swaps in the new snapshot and latches readiness. The swap is the
// only write to shared state, so no lock is ever held across scan execution.
func (e *Engine) publish(snap *snapshot.Snapshot) {
	e.mutex.Lock()
	e.current = snap
	e.lastCycleTime = time.Now()
	e.mutex.Unlock()

	e.ready.Store(true)
}

// CurrentSnapshot returns the most recently published snapshot and its
// publish time. The snapshot is immutable; callers must not modify it.
func (e *Engine) CurrentSnapshot() (*snapshot.Snapshot, time.Time) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.current, e.lastCycleTime
}

// Ready reports whether at least one cycle has published, successfully or not.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}
