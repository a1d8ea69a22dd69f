package volume

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cocosip/locus/pkg/types"
)

const testKey = "0a1b2c3d4e5f60718293a4b5c6d7e8f9"

func newTestVolume(t *testing.T, depth int) *LocalVolume {
	t.Helper()
	v, err := New("vol-test", t.TempDir(), depth)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return v
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()

	v, err := New("vol-1", tmpDir, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if v.ID() != "vol-1" {
		t.Errorf("ID() = %v, want vol-1", v.ID())
	}
	if v.MountPath() != tmpDir {
		t.Errorf("MountPath() = %v, want %v", v.MountPath(), tmpDir)
	}

	// Mount directory is created when missing
	nested := filepath.Join(tmpDir, "sub", "mount")
	if _, err := New("vol-2", nested, 0); err != nil {
		t.Fatalf("New() with missing dir error = %v", err)
	}
	if _, err := os.Stat(nested); err != nil {
		t.Errorf("mount directory was not created: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", t.TempDir(), 2); err == nil {
		t.Error("New() with empty id should fail")
	}
	if _, err := New("vol-1", "", 2); err == nil {
		t.Error("New() with empty mount should fail")
	}
	if _, err := New("vol-1", t.TempDir(), 4); err == nil {
		t.Error("New() with depth 4 should fail")
	}
	if _, err := New("vol-1", t.TempDir(), -1); err == nil {
		t.Error("New() with negative depth should fail")
	}
}

func TestPhysicalPath(t *testing.T) {
	tests := []struct {
		name    string
		depth   int
		fileKey string
		wantRel string // relative to {mount}/{tenant}
	}{
		{"depth 0", 0, testKey, testKey},
		{"depth 1", 1, testKey, "0a/" + testKey},
		{"depth 2", 2, testKey, "0a/1b/" + testKey},
		{"depth 3", 3, testKey, "0a/1b/2c/" + testKey},
		{"uppercase key shards lowered", 2, "AB12CD", "ab/12/AB12CD"},
		{"short key pads last shard", 3, "abc", "ab/c0/abc"},
		{"short key stops at end", 3, "ab", "ab/ab"},
		{"single byte key", 2, "a", "a0/a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVolume(t, tt.depth)
			got, err := v.PhysicalPath("t1", tt.fileKey)
			if err != nil {
				t.Fatalf("PhysicalPath() error = %v", err)
			}
			want := filepath.Join(v.MountPath(), "t1", filepath.FromSlash(tt.wantRel))
			if got != want {
				t.Errorf("PhysicalPath() = %v, want %v", got, want)
			}
		})
	}
}

func TestPhysicalPathRejectsEscapes(t *testing.T) {
	v := newTestVolume(t, 2)

	if _, err := v.PhysicalPath("../evil", testKey); !errors.Is(err, types.ErrInvalidTenantID) {
		t.Errorf("traversal tenant id error = %v, want ErrInvalidTenantID", err)
	}
	if _, err := v.PhysicalPath("t1", "../../../../etc/passwd"); !errors.Is(err, types.ErrPathOutsideVolume) {
		t.Errorf("traversal file key error = %v, want ErrPathOutsideVolume", err)
	}
	if _, err := v.PhysicalPath("t1", ""); err == nil {
		t.Error("empty file key should fail")
	}
}

func TestWriteReadDelete(t *testing.T) {
	ctx := context.Background()
	v := newTestVolume(t, 2)

	path, err := v.PhysicalPath("t1", testKey)
	if err != nil {
		t.Fatalf("PhysicalPath() error = %v", err)
	}

	payload := []byte("queued blob payload")
	n, err := v.Write(ctx, path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != int64(len(payload)) {
		t.Errorf("Write() n = %d, want %d", n, len(payload))
	}

	// Sharded parent directories were created
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("shard directory missing: %v", err)
	}

	// No staging file left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("staging file left behind: %s", e.Name())
		}
	}

	rc, err := v.Read(ctx, path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Read() = %q, want %q", got, payload)
	}

	if err := v.Delete(ctx, path); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists after delete")
	}

	// Deleting again is not an error
	if err := v.Delete(ctx, path); err != nil {
		t.Errorf("Delete() on missing file error = %v, want nil", err)
	}
}

func TestWriteOverwrites(t *testing.T) {
	ctx := context.Background()
	v := newTestVolume(t, 0)

	path, _ := v.PhysicalPath("t1", testKey)
	if _, err := v.Write(ctx, path, strings.NewReader("first")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if _, err := v.Write(ctx, path, strings.NewReader("second")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want %q", data, "second")
	}
}

func TestReadMissingFile(t *testing.T) {
	v := newTestVolume(t, 2)

	path, _ := v.PhysicalPath("t1", testKey)
	_, err := v.Read(context.Background(), path)
	if err == nil {
		t.Fatal("Read() on missing file should fail")
	}
	if !types.IsIOFault(err) {
		t.Errorf("Read() error = %v, want IOFault", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read() error = %v, want wrapped ErrNotExist", err)
	}
}

func TestOutsideMountRejected(t *testing.T) {
	ctx := context.Background()
	v := newTestVolume(t, 2)
	outside := filepath.Join(os.TempDir(), "locus-outside")

	if _, err := v.Read(ctx, outside); !errors.Is(err, types.ErrPathOutsideVolume) {
		t.Errorf("Read() error = %v, want ErrPathOutsideVolume", err)
	}
	if _, err := v.Write(ctx, outside, strings.NewReader("x")); !errors.Is(err, types.ErrPathOutsideVolume) {
		t.Errorf("Write() error = %v, want ErrPathOutsideVolume", err)
	}
	if err := v.Delete(ctx, outside); !errors.Is(err, types.ErrPathOutsideVolume) {
		t.Errorf("Delete() error = %v, want ErrPathOutsideVolume", err)
	}
}

func TestCancelledContext(t *testing.T) {
	v := newTestVolume(t, 0)
	path, _ := v.PhysicalPath("t1", testKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := v.Write(ctx, path, strings.NewReader("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Write() error = %v, want context.Canceled", err)
	}
	if _, err := v.Read(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}

func TestHealthy(t *testing.T) {
	v := newTestVolume(t, 2)

	if !v.Healthy(context.Background()) {
		t.Error("Healthy() = false on a writable temp dir")
	}

	// No canary residue
	entries, err := os.ReadDir(v.MountPath())
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), canaryPrefix) {
			t.Errorf("canary file left behind: %s", e.Name())
		}
	}
}

func TestHealthyMissingMount(t *testing.T) {
	tmpDir := t.TempDir()
	mount := filepath.Join(tmpDir, "mount")
	v, err := New("vol-gone", mount, 2)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := os.RemoveAll(mount); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if v.Healthy(context.Background()) {
		t.Error("Healthy() = true on a missing mount")
	}
}

func TestCapacity(t *testing.T) {
	v := newTestVolume(t, 2)

	total, err := v.TotalCapacity()
	if err != nil {
		t.Fatalf("TotalCapacity() error = %v", err)
	}
	if total == 0 {
		t.Error("TotalCapacity() = 0")
	}

	avail, err := v.AvailableSpace()
	if err != nil {
		t.Fatalf("AvailableSpace() error = %v", err)
	}
	if avail == 0 {
		t.Error("AvailableSpace() = 0")
	}
	if avail > total {
		t.Errorf("AvailableSpace() %d > TotalCapacity() %d", avail, total)
	}
}

func TestShardSegments(t *testing.T) {
	tests := []struct {
		key   string
		depth int
		want  []string
	}{
		{testKey, 0, nil},
		{testKey, 2, []string{"0a", "1b"}},
		{"abcdef", 3, []string{"ab", "cd", "ef"}},
		{"abcde", 3, []string{"ab", "cd", "e0"}},
		{"abcd", 3, []string{"ab", "cd"}},
		{"a", 3, []string{"a0"}},
		{"", 3, nil},
	}

	for _, tt := range tests {
		got := shardSegments(tt.key, tt.depth)
		if len(got) != len(tt.want) {
			t.Errorf("shardSegments(%q, %d) = %v, want %v", tt.key, tt.depth, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("shardSegments(%q, %d) = %v, want %v", tt.key, tt.depth, got, tt.want)
				break
			}
		}
	}
}
