package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions every layer needs to discriminate.
// Wrapped errors carry call-site context; use errors.Is to classify.
var (
	// ErrTenantNotFound is returned when a tenant does not exist and
	// auto-creation is disabled
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantDisabled is returned for operations on a tenant whose
	// status is not Enabled
	ErrTenantDisabled = errors.New("tenant is not enabled")

	// ErrTenantExists is returned by explicit tenant creation when the
	// tenant already exists
	ErrTenantExists = errors.New("tenant already exists")

	// ErrInvalidTenantID is returned when a tenant identifier fails
	// validation
	ErrInvalidTenantID = errors.New("invalid tenant id")

	// ErrNotFound is returned when a file key does not resolve to a
	// record owned by the calling tenant. Cross-tenant lookups return
	// this same error so key existence never leaks between tenants.
	ErrNotFound = errors.New("file not found")

	// ErrNoHealthyVolume is returned when no volume can accept a write
	ErrNoHealthyVolume = errors.New("no healthy volume with sufficient space")

	// ErrNotProcessing is returned when complete or fail is invoked on
	// a record that is not in the Processing state. This is a caller
	// bug, not a storage fault.
	ErrNotProcessing = errors.New("file is not in processing state")

	// ErrCorruption marks structural damage to a metadata or quota
	// database; it triggers the recovery path
	ErrCorruption = errors.New("database corruption detected")

	// ErrPathOutsideVolume marks a computed physical path that escapes
	// its volume mount. Always a programming error; never reported as
	// a missing file.
	ErrPathOutsideVolume = errors.New("path escapes volume mount")
)

// QuotaScope identifies which counter rejected an increment
type QuotaScope string

const (
	QuotaScopeTenant    QuotaScope = "tenant"
	QuotaScopeDirectory QuotaScope = "directory"
)

// QuotaExceededError reports a failed quota check with the observed
// counter state at the time of the check
type QuotaExceededError struct {
	Scope         QuotaScope
	TenantID      string
	DirectoryPath string // empty for tenant scope
	Current       int64
	Limit         int64
}

func (e *QuotaExceededError) Error() string {
	if e.Scope == QuotaScopeDirectory {
		return fmt.Sprintf("directory quota exceeded for %s%s: %d/%d",
			e.TenantID, e.DirectoryPath, e.Current, e.Limit)
	}
	return fmt.Sprintf("tenant quota exceeded for %s: %d/%d",
		e.TenantID, e.Current, e.Limit)
}

// IsQuotaExceeded reports whether err is a quota rejection of any scope
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}

// IOFault wraps an underlying filesystem or database error with the
// operation and path that raised it. The cause is preserved for
// errors.Is/As inspection.
type IOFault struct {
	Op   string
	Path string
	Err  error
}

func (e *IOFault) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOFault) Unwrap() error {
	return e.Err
}

// NewIOFault builds an IOFault for the given operation
func NewIOFault(op, path string, err error) *IOFault {
	return &IOFault{Op: op, Path: path, Err: err}
}

// IsIOFault reports whether err carries an IOFault anywhere in its chain
func IsIOFault(err error) bool {
	var f *IOFault
	return errors.As(err, &f)
}
