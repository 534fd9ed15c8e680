// ABOUTME: In-memory TTL cache for successful image-scan reports.
// ABOUTME: Keeps expensive Trivy CLI scans from repeating every cycle when the interval is short.

package cache

import (
	"sync"
	"time"

	"github.com/jfeddern/TrivyScope/internal/types"

	"github.com/sirupsen/logrus"
)

const cleanupInterval = 10 * time.Minute

type entry struct {
	report    *types.ScanReport
	expiresAt time.Time
}

// ReportCache caches successful scan reports keyed by subject. Errored
// reports are never cached so a failing image is retried every cycle.
type ReportCache struct {
	cache  map[string]*entry
	mutex  sync.RWMutex
	ttl    time.Duration
	logger *logrus.Logger
}

// NewReportCache creates a report cache with the given TTL and starts its
// background cleanup.
func NewReportCache(ttl time.Duration, logger *logrus.Logger) *ReportCache {
	c := &ReportCache{
		cache:  make(map[string]*entry),
		ttl:    ttl,
		logger: logger,
	}

	go c.startCleanup()

	return c
}

// Get returns the cached report for a subject, or nil on miss or expiry.
func (c *ReportCache) Get(subject types.ScanSubject) *types.ScanReport {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	e, exists := c.cache[subject.Key()]
	if !exists {
		return nil
	}

	// Expired entries are left for the cleanup pass to avoid taking the
	// write lock on the read path.
	if time.Now().After(e.expiresAt) {
		return nil
	}

	c.logger.WithField("subject", subject.Identity).Debug("Scan report cache hit")
	return e.report
}

// Set caches a report for its subject. Errored reports are dropped.
func (c *ReportCache) Set(subject types.ScanSubject, report *types.ScanReport) {
	if report == nil || report.Errored() {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[subject.Key()] = &entry{
		report:    report,
		expiresAt: time.Now().Add(c.ttl),
	}

	c.logger.WithField("subject", subject.Identity).Debug("Cached scan report")
}

func (c *ReportCache) startCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

func (c *ReportCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	expiredCount := 0

	for key, e := range c.cache {
		if now.After(e.expiresAt) {
			delete(c.cache, key)
			expiredCount++
		}
	}

	if expiredCount > 0 {
		c.logger.WithFields(logrus.Fields{
			"expired_entries":   expiredCount,
			"remaining_entries": len(c.cache),
		}).Debug("Scan report cache cleanup completed")
	}
}

// Stats returns the number of cached and expired-but-uncollected entries.
func (c *ReportCache) Stats() (total int, expired int) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := time.Now()
	total = len(c.cache)

	for _, e := range c.cache {
		if now.After(e.expiresAt) {
			expired++
		}
	}

	return total, expired
}
