package redis

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/coursegate/progress-engine/internal/domain/analytics"
)

// ══════════════════════════════════════════════════════════════════════════════
// DASHBOARD METRICS CACHE
// Key layout: <prefix>:dashboard:<course|all>:<users-hash|all>
// Invalidating a course drops its entries and the cross-course ones.
// ══════════════════════════════════════════════════════════════════════════════

const (
	dashboardNamespace = "dashboard"
	allScope           = "all"
)

// DashboardCache stores computed dashboard metrics.
type DashboardCache struct {
	cache *Cache
}

// NewDashboardCache creates a dashboard cache on top of c.
func NewDashboardCache(c *Cache) *DashboardCache {
	return &DashboardCache{cache: c}
}

// GetDashboard returns cached metrics; found=false on a miss.
func (d *DashboardCache) GetDashboard(ctx context.Context, courseSlug string, userIDs []string) (*analytics.Metrics, bool, error) {
	var m analytics.Metrics
	err := d.cache.Get(ctx, d.key(courseSlug, userIDs), &m)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

// SetDashboard stores metrics for the filter with the given TTL.
func (d *DashboardCache) SetDashboard(ctx context.Context, courseSlug string, userIDs []string, m *analytics.Metrics, ttl time.Duration) error {
	return d.cache.Set(ctx, d.key(courseSlug, userIDs), m, ttl)
}

// InvalidateCourse drops every cached filter touching the course.
func (d *DashboardCache) InvalidateCourse(ctx context.Context, courseSlug string) error {
	scopes := []string{allScope}
	if courseSlug != "" {
		scopes = append(scopes, courseSlug)
	}
	var errs []error
	for _, scope := range scopes {
		if err := d.cache.DeleteByPattern(ctx, d.cache.Key(dashboardNamespace, scope, "*")); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *DashboardCache) key(courseSlug string, userIDs []string) string {
	return d.cache.Key(dashboardNamespace, DashboardScope(courseSlug), UsersDigest(userIDs))
}

// DashboardScope names the course part of a dashboard key.
func DashboardScope(courseSlug string) string {
	if courseSlug == "" {
		return allScope
	}
	return courseSlug
}

// UsersDigest is an order-independent short hash of a user id list.
func UsersDigest(userIDs []string) string {
	if len(userIDs) == 0 {
		return allScope
	}
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	sum := sha1.Sum([]byte(strings.Join(ids, "\x00")))
	return hex.EncodeToString(sum[:8])
}
