package volume

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	retry "github.com/sethvargo/go-retry"
	"golang.org/x/sys/unix"

	"github.com/cocosip/locus/pkg/types"
)

const (
	// MaxShardingDepth bounds the sharded directory tree under a
	// tenant prefix
	MaxShardingDepth = 3

	// DefaultShardingDepth gives 256^2 leaf directories per tenant
	DefaultShardingDepth = 2

	// canaryRetries and canaryPause tolerate networked filesystems
	// (NFS, Ceph) that need a brief settling period
	canaryRetries = 3
	canaryPause   = 100 * time.Millisecond

	canaryPrefix = ".locus-canary-"

	// TempPattern names in-flight staging files; maintenance skips
	// young files matching it during orphan sweeps
	TempPattern = ".locus-*.tmp"
)

// Volume is a mounted storage target for file payloads
type Volume interface {
	// ID returns the configured volume identifier
	ID() string

	// MountPath returns the absolute mount directory
	MountPath() string

	// PhysicalPath builds the sharded on-disk path for a file and
	// verifies it stays within the mount
	PhysicalPath(tenantID, fileKey string) (string, error)

	// Read opens the file at path for reading
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write streams r to path atomically and returns bytes written
	Write(ctx context.Context, path string, r io.Reader) (int64, error)

	// Delete removes the file at path; a missing file is not an error
	Delete(ctx context.Context, path string) error

	// Healthy reports whether the volume can accept writes right now
	Healthy(ctx context.Context) bool

	// TotalCapacity returns the size of the underlying filesystem
	TotalCapacity() (uint64, error)

	// AvailableSpace returns the bytes available to unprivileged writes
	AvailableSpace() (uint64, error)
}

// LocalVolume implements Volume on a local (or locally mounted) directory
type LocalVolume struct {
	id            string
	mountPath     string
	shardingDepth int
}

// New creates a LocalVolume rooted at mountPath, creating the directory
// if needed.
func New(id, mountPath string, shardingDepth int) (*LocalVolume, error) {
	if id == "" {
		return nil, fmt.Errorf("volume id is required")
	}
	if mountPath == "" {
		return nil, fmt.Errorf("volume %s: mount path is required", id)
	}
	if shardingDepth < 0 || shardingDepth > MaxShardingDepth {
		return nil, fmt.Errorf("volume %s: sharding depth must be in [0,%d], got %d", id, MaxShardingDepth, shardingDepth)
	}

	abs, err := filepath.Abs(mountPath)
	if err != nil {
		return nil, fmt.Errorf("volume %s: failed to resolve mount path: %w", id, err)
	}

	// Ensure mount directory exists
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("volume %s: failed to create mount directory: %w", id, err)
	}

	return &LocalVolume{
		id:            id,
		mountPath:     abs,
		shardingDepth: shardingDepth,
	}, nil
}

// ID returns the volume identifier
func (v *LocalVolume) ID() string {
	return v.id
}

// MountPath returns the absolute mount directory
func (v *LocalVolume) MountPath() string {
	return v.mountPath
}

// ShardingDepth returns the configured directory fan-out depth
func (v *LocalVolume) ShardingDepth() int {
	return v.shardingDepth
}

// PhysicalPath builds {mount}/{tenantId}/{s1}/../{fileKey} where each
// shard is a 2-hex slice of the key. Keys shorter than 2*depth pad the
// last partial shard with '0' and stop. The result is containment-checked
// against the mount before it is returned.
func (v *LocalVolume) PhysicalPath(tenantID, fileKey string) (string, error) {
	if err := types.ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	if fileKey == "" {
		return "", fmt.Errorf("file key is required")
	}

	parts := make([]string, 0, v.shardingDepth+3)
	parts = append(parts, v.mountPath, tenantID)
	parts = append(parts, shardSegments(fileKey, v.shardingDepth)...)
	parts = append(parts, fileKey)

	path := filepath.Join(parts...)
	if !IsWithin(v.mountPath, path) {
		return "", types.ErrPathOutsideVolume
	}
	return path, nil
}

// shardSegments slices fileKey into 2-hex directory names. The segment
// at depth i covers key bytes [2i, 2i+2); a trailing single byte is
// padded with '0'; segments past the end of the key are dropped.
func shardSegments(fileKey string, depth int) []string {
	if depth <= 0 {
		return nil
	}
	segs := make([]string, 0, depth)
	for i := 0; i < depth; i++ {
		start := 2 * i
		if start >= len(fileKey) {
			break
		}
		end := start + 2
		if end > len(fileKey) {
			end = len(fileKey)
		}
		seg := strings.ToLower(fileKey[start:end])
		if len(seg) < 2 {
			seg += "0"
		}
		segs = append(segs, seg)
	}
	return segs
}

// Read opens the file at path
func (v *LocalVolume) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if !IsWithin(v.mountPath, path) {
		return nil, types.ErrPathOutsideVolume
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewIOFault("read", path, err)
	}
	return f, nil
}

// Write streams r to a temp file in the target directory, fsyncs, then
// renames into place so readers never observe a partial file. Returns
// the number of payload bytes written.
func (v *LocalVolume) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	if !IsWithin(v.mountPath, path) {
		return 0, types.ErrPathOutsideVolume
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, types.NewIOFault("write", path, err)
	}

	tmp, err := os.CreateTemp(dir, TempPattern)
	if err != nil {
		return 0, types.NewIOFault("write", path, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, types.NewIOFault("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, types.NewIOFault("write", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, types.NewIOFault("write", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, types.NewIOFault("write", path, err)
	}
	return n, nil
}

// Delete removes the file at path. A file that is already gone counts
// as deleted.
func (v *LocalVolume) Delete(ctx context.Context, path string) error {
	if !IsWithin(v.mountPath, path) {
		return types.ErrPathOutsideVolume
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return types.NewIOFault("delete", path, err)
	}
	return nil
}

// Healthy checks that the mount exists, has free space, and can round-trip
// a canary file. The canary retries to tolerate slow networked mounts.
func (v *LocalVolume) Healthy(ctx context.Context) bool {
	info, err := os.Stat(v.mountPath)
	if err != nil || !info.IsDir() {
		return false
	}

	avail, err := v.AvailableSpace()
	if err != nil || avail == 0 {
		return false
	}

	backoff := retry.WithMaxRetries(canaryRetries, retry.NewConstant(canaryPause))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := v.canary(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	return err == nil
}

// canary writes, reads back, and removes a uniquely named probe file at
// the mount root.
func (v *LocalVolume) canary() error {
	name := filepath.Join(v.mountPath, canaryPrefix+uuid.NewString())
	payload := []byte(v.id)

	if err := os.WriteFile(name, payload, 0644); err != nil {
		return fmt.Errorf("canary write failed: %w", err)
	}
	got, err := os.ReadFile(name)
	if err != nil {
		os.Remove(name)
		return fmt.Errorf("canary read failed: %w", err)
	}
	if !bytes.Equal(got, payload) {
		os.Remove(name)
		return fmt.Errorf("canary read back %d bytes, want %d", len(got), len(payload))
	}
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("canary delete failed: %w", err)
	}
	return nil
}

// TotalCapacity returns the size of the filesystem holding the mount
func (v *LocalVolume) TotalCapacity() (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(v.mountPath, &st); err != nil {
		return 0, types.NewIOFault("statfs", v.mountPath, err)
	}
	return st.Blocks * uint64(st.Bsize), nil
}

// AvailableSpace returns the bytes available to unprivileged writes
func (v *LocalVolume) AvailableSpace() (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(v.mountPath, &st); err != nil {
		return 0, types.NewIOFault("statfs", v.mountPath, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
