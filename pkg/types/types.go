package types

import (
	"regexp"
	"strings"
	"time"
)

// TenantStatus represents the administrative state of a tenant
type TenantStatus string

const (
	TenantEnabled   TenantStatus = "Enabled"
	TenantDisabled  TenantStatus = "Disabled"
	TenantSuspended TenantStatus = "Suspended"
)

// FileStatus represents the queue state of a stored file
type FileStatus string

const (
	// FilePending means the file is stored and waiting to be claimed
	FilePending FileStatus = "Pending"

	// FileProcessing means exactly one worker has claimed the file
	FileProcessing FileStatus = "Processing"

	// FileCompleted exists only transiently; completed records are
	// deleted synchronously with the physical file
	FileCompleted FileStatus = "Completed"

	// FileFailed is a transient marker; a failed file is immediately
	// re-pended with an availableAt or promoted to PermanentlyFailed
	FileFailed FileStatus = "Failed"

	// FilePermanentlyFailed means the retry budget is exhausted; the
	// record and its blob are retained until maintenance evicts them
	FilePermanentlyFailed FileStatus = "PermanentlyFailed"
)

// TenantRecord describes a tenant of the storage pool
type TenantRecord struct {
	TenantID    string       `json:"tenantId"`
	Status      TenantStatus `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	StoragePath string       `json:"storagePath"` // informational prefix, "storage/{tenantId}"
}

// FileRecord is the metadata row for one stored blob
type FileRecord struct {
	FileKey             string     `json:"fileKey"`
	TenantID            string     `json:"tenantId"`
	VolumeID            string     `json:"volumeId"`
	PhysicalPath        string     `json:"physicalPath"`
	DirectoryPath       string     `json:"directoryPath"`
	FileSize            int64      `json:"fileSize"`
	Status              FileStatus `json:"status"`
	RetryCount          uint32     `json:"retryCount"`
	AvailableAt         *time.Time `json:"availableAt,omitempty"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	LastFailedAt        *time.Time `json:"lastFailedAt,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// Clone returns a deep copy so cached records never alias caller state
func (r *FileRecord) Clone() *FileRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.AvailableAt = cloneTime(r.AvailableAt)
	c.ProcessingStartedAt = cloneTime(r.ProcessingStartedAt)
	c.LastFailedAt = cloneTime(r.LastFailedAt)
	return &c
}

// Active reports whether the record belongs in the active set.
// Completed records are transient and never cached.
func (r *FileRecord) Active() bool {
	return r.Status != FileCompleted
}

// Ready reports whether a pending record is claimable at the given instant
func (r *FileRecord) Ready(now time.Time) bool {
	if r.Status != FilePending {
		return false
	}
	return r.AvailableAt == nil || !r.AvailableAt.After(now)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// FileInfo is the reduced view returned by info lookups
type FileInfo struct {
	FileKey   string     `json:"fileKey"`
	FileSize  int64      `json:"fileSize"`
	CreatedAt time.Time  `json:"createdAt"`
	Status    FileStatus `json:"status"`
}

// Info projects the record into its public info view
func (r *FileRecord) Info() *FileInfo {
	return &FileInfo{
		FileKey:   r.FileKey,
		FileSize:  r.FileSize,
		CreatedAt: r.CreatedAt,
		Status:    r.Status,
	}
}

// DirectoryQuota is one per-directory counter row
type DirectoryQuota struct {
	TenantID      string `json:"tenantId"`
	DirectoryPath string `json:"directoryPath"`
	CurrentCount  int64  `json:"currentCount"`
	Limit         int64  `json:"limit"` // 0 = unlimited
}

// TenantQuota is the tenant-wide counter row
type TenantQuota struct {
	TenantID     string `json:"tenantId"`
	CurrentCount int64  `json:"currentCount"`
	Limit        int64  `json:"limit"` // 0 = unlimited
}

// RootDirectory is the default logical directory for quota accounting
const RootDirectory = "/"

var (
	tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)
	fileKeyPattern  = regexp.MustCompile(`^[0-9a-f]{32}$`)
)

// ValidateTenantID checks the tenant identifier against the allowed
// pattern. "." and ".." are rejected even though the pattern admits
// them; tenant IDs become path components under every volume mount.
func ValidateTenantID(id string) error {
	if id == "." || id == ".." || !tenantIDPattern.MatchString(id) {
		return ErrInvalidTenantID
	}
	return nil
}

// IsFileKey reports whether s has the shape of a file key
// (32 lowercase hex characters)
func IsFileKey(s string) bool {
	return fileKeyPattern.MatchString(s)
}

// NormalizeDirectory canonicalizes a logical directory path for quota
// accounting. Empty input maps to the root directory; all paths are
// absolute with no trailing slash (except the root itself).
func NormalizeDirectory(dir string) string {
	if dir == "" || dir == RootDirectory {
		return RootDirectory
	}
	if !strings.HasPrefix(dir, "/") {
		dir = "/" + dir
	}
	dir = strings.TrimRight(dir, "/")
	if dir == "" {
		return RootDirectory
	}
	return dir
}
