package deletion

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/akiramei/funcqc-sub009/pkg/analyzer"
)

const (
	manifestName = "manifest.json"
	blobDir      = "files"
)

// BackupFile records one captured file.
type BackupFile struct {
	Path   string      `json:"path"`
	Digest string      `json:"digest"`
	Size   int64       `json:"size"`
	Mode   os.FileMode `json:"mode"`
	Blob   string      `json:"blob"`
}

// Manifest describes a backup directory.
type Manifest struct {
	ID         string       `json:"id"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	Functions  []string     `json:"functions"`
	Files      []BackupFile `json:"files"`
}

// Backup is the exact pre-mutation content of every file a deletion run
// touches. It is written completely before any file is modified and is
// retained until restored or discarded.
type Backup struct {
	Dir      string
	Manifest Manifest

	byPath map[string]*BackupFile
}

// HashBytes computes a BLAKE3 hash of bytes and returns it as a hex string.
func HashBytes(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// CreateBackup captures paths into <root>/<id>/. Blobs and the manifest are
// fsynced before it returns.
func CreateBackup(root, snapshotID string, functionIDs, paths []string) (*Backup, error) {
	id := uuid.NewString()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(filepath.Join(dir, blobDir), 0o755); err != nil {
		return nil, &analyzer.FileSystemError{Op: "create backup dir", Path: dir, Err: err}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer enc.Close()

	unique := make(map[string]bool, len(paths))
	sorted := make([]string, 0, len(paths))
	for _, p := range paths {
		if !unique[p] {
			unique[p] = true
			sorted = append(sorted, p)
		}
	}
	sort.Strings(sorted)

	b := &Backup{
		Dir: dir,
		Manifest: Manifest{
			ID:         id,
			SnapshotID: snapshotID,
			CreatedAt:  time.Now().UTC(),
			Functions:  append([]string{}, functionIDs...),
			Files:      make([]BackupFile, 0, len(sorted)),
		},
	}

	for _, p := range sorted {
		info, err := os.Stat(p)
		if err != nil {
			return nil, &analyzer.FileSystemError{Op: "stat", Path: p, Err: err}
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, &analyzer.FileSystemError{Op: "read", Path: p, Err: err}
		}
		digest := HashBytes(data)
		blob := filepath.Join(blobDir, digest+".zst")
		if err := writeFileSync(filepath.Join(dir, blob), enc.EncodeAll(data, nil), 0o644); err != nil {
			return nil, err
		}
		b.Manifest.Files = append(b.Manifest.Files, BackupFile{
			Path:   p,
			Digest: digest,
			Size:   int64(len(data)),
			Mode:   info.Mode().Perm(),
			Blob:   filepath.ToSlash(blob),
		})
	}

	manifest, err := json.MarshalIndent(b.Manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, manifestName), manifest, 0o644); err != nil {
		return nil, err
	}
	syncDir(filepath.Join(dir, blobDir))
	syncDir(dir)

	b.index()
	return b, nil
}

// OpenBackup loads the backup stored in dir.
func OpenBackup(dir string) (*Backup, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, &analyzer.FileSystemError{Op: "read manifest", Path: dir, Err: err}
	}
	b := &Backup{Dir: dir}
	if err := json.Unmarshal(data, &b.Manifest); err != nil {
		return nil, fmt.Errorf("invalid backup manifest in %s: %w", dir, err)
	}
	b.index()
	return b, nil
}

func (b *Backup) index() {
	b.byPath = make(map[string]*BackupFile, len(b.Manifest.Files))
	for i := range b.Manifest.Files {
		b.byPath[b.Manifest.Files[i].Path] = &b.Manifest.Files[i]
	}
}

// Paths returns the captured file paths in ascending order.
func (b *Backup) Paths() []string {
	paths := make([]string, 0, len(b.Manifest.Files))
	for _, f := range b.Manifest.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// Content returns the original bytes of a captured file, verified against
// its digest.
func (b *Backup) Content(path string) ([]byte, error) {
	f, ok := b.byPath[path]
	if !ok {
		return nil, &analyzer.FileSystemError{Op: "lookup backup", Path: path, Err: os.ErrNotExist}
	}
	blob, err := os.ReadFile(filepath.Join(b.Dir, filepath.FromSlash(f.Blob)))
	if err != nil {
		return nil, &analyzer.FileSystemError{Op: "read backup blob", Path: path, Err: err}
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer dec.Close()

	data, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, &analyzer.FileSystemError{Op: "decompress backup blob", Path: path, Err: err}
	}
	if got := HashBytes(data); got != f.Digest {
		return nil, &analyzer.FileSystemError{
			Op:   "verify backup blob",
			Path: path,
			Err:  fmt.Errorf("digest mismatch: want %s, got %s", f.Digest, got),
		}
	}
	return data, nil
}

// Restore writes the original bytes back to the given paths, or to every
// captured path when none are given. Each restored file is re-read and
// checked against its digest.
func (b *Backup) Restore(paths ...string) error {
	if len(paths) == 0 {
		paths = b.Paths()
	}
	var errs []error
	for _, p := range paths {
		if err := b.restoreFile(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Backup) restoreFile(path string) error {
	data, err := b.Content(path)
	if err != nil {
		return err
	}
	f := b.byPath[path]
	if err := writeFileAtomic(path, data, f.Mode); err != nil {
		return err
	}
	written, err := os.ReadFile(path)
	if err != nil {
		return &analyzer.FileSystemError{Op: "verify restore", Path: path, Err: err}
	}
	if HashBytes(written) != f.Digest {
		return &analyzer.FileSystemError{Op: "verify restore", Path: path, Err: errors.New("restored content does not match backup")}
	}
	return nil
}

// Discard deletes the backup directory.
func (b *Backup) Discard() error {
	if err := os.RemoveAll(b.Dir); err != nil {
		return &analyzer.FileSystemError{Op: "discard backup", Path: b.Dir, Err: err}
	}
	return nil
}

// ListBackups returns the manifests under root, newest first. Directories
// without a readable manifest are skipped.
func ListBackups(root string) ([]*Backup, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &analyzer.FileSystemError{Op: "list backups", Path: root, Err: err}
	}
	var backups []*Backup
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := OpenBackup(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		backups = append(backups, b)
	}
	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].Manifest.CreatedAt.Equal(backups[j].Manifest.CreatedAt) {
			return backups[i].Manifest.CreatedAt.After(backups[j].Manifest.CreatedAt)
		}
		return backups[i].Manifest.ID < backups[j].Manifest.ID
	})
	return backups, nil
}

// writeFileSync writes and fsyncs a file in place.
func writeFileSync(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return &analyzer.FileSystemError{Op: "write", Path: path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return &analyzer.FileSystemError{Op: "write", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return &analyzer.FileSystemError{Op: "sync", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &analyzer.FileSystemError{Op: "close", Path: path, Err: err}
	}
	return nil
}

// writeFileAtomic replaces path through a synced temp file and rename, so
// readers see either the old or the new content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".funcqc-*")
	if err != nil {
		return &analyzer.FileSystemError{Op: "create temp", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return &analyzer.FileSystemError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return &analyzer.FileSystemError{Op: "sync", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &analyzer.FileSystemError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return &analyzer.FileSystemError{Op: "chmod", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return &analyzer.FileSystemError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// syncDir flushes directory entries. Not all platforms support it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
