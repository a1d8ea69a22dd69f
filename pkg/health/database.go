package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cocosip/locus/pkg/metastore"
	"github.com/cocosip/locus/pkg/quota"
	"github.com/cocosip/locus/pkg/tenant"
)

// MetadataChecker verifies the structural integrity of every tenant's
// metadata database
type MetadataChecker struct {
	meta     *metastore.Store
	registry *tenant.Registry
}

// NewMetadataChecker creates a checker over the metadata store
func NewMetadataChecker(meta *metastore.Store, registry *tenant.Registry) *MetadataChecker {
	return &MetadataChecker{meta: meta, registry: registry}
}

// Check verifies each tenant database and reports the first failure
func (c *MetadataChecker) Check(ctx context.Context) Result {
	start := time.Now()

	tenants, err := c.registry.List(ctx)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to list tenants: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	for _, rec := range tenants {
		if err := ctx.Err(); err != nil {
			return Result{
				Healthy:   false,
				Message:   err.Error(),
				CheckedAt: start,
				Duration:  time.Since(start),
			}
		}
		if err := c.meta.VerifyTenant(rec.TenantID); err != nil {
			return Result{
				Healthy:   false,
				Message:   fmt.Sprintf("metadata database for tenant %s: %v", rec.TenantID, err),
				CheckedAt: start,
				Duration:  time.Since(start),
			}
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%d tenant metadata databases verified", len(tenants)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the check type
func (c *MetadataChecker) Type() CheckType {
	return CheckTypeMetadata
}

// QuotaChecker verifies the structural integrity of every tenant's
// quota database
type QuotaChecker struct {
	quotas   *quota.Store
	registry *tenant.Registry
}

// NewQuotaChecker creates a checker over the quota store
func NewQuotaChecker(quotas *quota.Store, registry *tenant.Registry) *QuotaChecker {
	return &QuotaChecker{quotas: quotas, registry: registry}
}

// Check verifies each tenant database and reports the first failure
func (c *QuotaChecker) Check(ctx context.Context) Result {
	start := time.Now()

	tenants, err := c.registry.List(ctx)
	if err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("failed to list tenants: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	for _, rec := range tenants {
		if err := ctx.Err(); err != nil {
			return Result{
				Healthy:   false,
				Message:   err.Error(),
				CheckedAt: start,
				Duration:  time.Since(start),
			}
		}
		if err := c.quotas.VerifyTenant(rec.TenantID); err != nil {
			return Result{
				Healthy:   false,
				Message:   fmt.Sprintf("quota database for tenant %s: %v", rec.TenantID, err),
				CheckedAt: start,
				Duration:  time.Since(start),
			}
		}
	}

	return Result{
		Healthy:   true,
		Message:   fmt.Sprintf("%d tenant quota databases verified", len(tenants)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the check type
func (c *QuotaChecker) Type() CheckType {
	return CheckTypeQuota
}

// RunAll executes every checker and returns the results in order
func RunAll(ctx context.Context, checkers []Checker) []Result {
	results := make([]Result, 0, len(checkers))
	for _, c := range checkers {
		results = append(results, c.Check(ctx))
	}
	return results
}
