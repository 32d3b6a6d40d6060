package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"scribe/internal/services"
)

// ErrTooLarge is returned when a write exceeds its byte limit.
var ErrTooLarge = errors.New("blob exceeds size limit")

// ErrInvalidKey is returned for keys that are empty or escape the root.
var ErrInvalidKey = errors.New("invalid blob key")

// Store keeps blobs under a root directory.
type Store struct {
	root         string
	minFreeBytes int64
	statfs       func(path string) (total, free uint64, err error)
}

// PutResult describes a stored blob.
type PutResult struct {
	Key    string
	Size   int64
	SHA256 string
}

// New creates the root if needed and returns a Store.
func New(root string, minFreeBytes int64) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: abs, minFreeBytes: minFreeBytes, statfs: realStatfs}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// Path resolves key to an absolute filesystem path. The inference engine reads
// media through this path on the shared volume.
func (s *Store) Path(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Put streams r into key. A positive limit caps the blob size; exceeding it
// returns ErrTooLarge and leaves nothing behind.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, limit int64) (PutResult, error) {
	target, err := s.Path(key)
	if err != nil {
		return PutResult{}, err
	}
	if err := s.ensureSpace(); err != nil {
		return PutResult{}, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return PutResult{}, fmt.Errorf("create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return PutResult{}, fmt.Errorf("create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	src := io.Reader(&contextReader{ctx: ctx, r: r})
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}
	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), src)
	if err != nil {
		return PutResult{}, fmt.Errorf("write blob: %w", err)
	}
	if limit > 0 && written > limit {
		return PutResult{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, limit)
	}
	if err := tmp.Sync(); err != nil {
		return PutResult{}, fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return PutResult{}, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return PutResult{}, fmt.Errorf("commit blob: %w", err)
	}
	committed = true

	clean, _ := cleanKey(key)
	return PutResult{Key: clean, Size: written, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// PutBytes stores data under key.
func (s *Store) PutBytes(ctx context.Context, key string, data []byte) (PutResult, error) {
	return s.Put(ctx, key, bytes.NewReader(data), 0)
}

// Open returns a reader for key. Missing blobs wrap services.ErrNotFound.
func (s *Store) Open(key string) (*os.File, error) {
	target, err := s.Path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: blob %s", services.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// ReadAll returns the contents of key.
func (s *Store) ReadAll(key string) ([]byte, error) {
	f, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Delete removes key. Missing blobs are not an error.
func (s *Store) Delete(key string) error {
	target, err := s.Path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	s.pruneEmptyDirs(filepath.Dir(target))
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(key string) (bool, error) {
	target, err := s.Path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// FreeSpace reports total and available bytes on the storage volume.
func (s *Store) FreeSpace() (total, free uint64, err error) {
	return s.statfs(s.root)
}

// CheckAccess verifies the root is readable and writable by this process.
func (s *Store) CheckAccess() error {
	if err := unix.Access(s.root, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%w: storage root %s: %v", services.ErrUnavailable, s.root, err)
	}
	return nil
}

// UploadKey returns a fresh key for an uploaded file, keeping its extension.
func UploadKey(ownerID int64, filename string) string {
	ext := strings.ToLower(path.Ext(filepath.Base(filename)))
	return path.Join("uploads", strconv.FormatInt(ownerID, 10), uuid.NewString()+ext)
}

// ArtifactKey returns a fresh key for an export rendering.
func ArtifactKey(jobID int64, format string) string {
	return path.Join("exports", strconv.FormatInt(jobID, 10), uuid.NewString()+"."+format)
}

// WorkKey returns a fresh key for intermediate pipeline output.
func WorkKey(jobID int64, name string) string {
	return path.Join("work", strconv.FormatInt(jobID, 10), uuid.NewString()+"-"+name)
}

func (s *Store) ensureSpace() error {
	if s.minFreeBytes <= 0 {
		return nil
	}
	_, free, err := s.statfs(s.root)
	if err != nil {
		return fmt.Errorf("%w: stat storage volume: %v", services.ErrUnavailable, err)
	}
	if free < uint64(s.minFreeBytes) {
		return fmt.Errorf("%w: storage volume has %d bytes free, need at least %d", services.ErrUnavailable, free, s.minFreeBytes)
	}
	return nil
}

func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	clean := path.Clean("/" + key)[1:]
	if clean == "" || clean != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return clean, nil
}

func realStatfs(root string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(root, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
