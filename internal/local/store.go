package local

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dxtools/dxsync/internal/authoring"
)

const (
	// tempSuffix marks in-flight downloads. Orphans are swept at startup.
	tempSuffix = ".dxtmp"
	// sidecarSuffix marks content-asset metadata files next to binaries.
	sidecarSuffix = ".json"

	dirPerm  = 0o755
	filePerm = 0o644

	metadataDirName = ".metadata"
)

// Entry is one locally present artifact.
type Entry struct {
	// Path is the logical, /-rooted identity (binary kinds) or the
	// artifact id (JSON kinds).
	Path string
	// FilePath is the absolute on-disk location.
	FilePath string
}

// Store owns the bytes on disk under one working directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// Open prepares the working directory and sweeps orphaned temp files
// left behind by interrupted transfers.
func Open(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local: resolving working dir %s: %w", root, err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("local: creating working dir %s: %w", abs, err)
	}

	s := &Store{root: abs, logger: logger}
	s.sweepOrphans()

	return s, nil
}

// Root returns the absolute working directory.
func (s *Store) Root() string {
	return s.root
}

// sweepOrphans removes temp files from interrupted runs. Best-effort:
// failures are logged, never fatal.
func (s *Store) sweepOrphans() {
	var swept int

	_ = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || d.IsDir() {
			return nil //nolint:nilerr // best-effort sweep
		}

		if strings.HasSuffix(d.Name(), tempSuffix) {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("failed to remove orphaned temp file",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			} else {
				swept++
			}
		}

		return nil
	})

	if swept > 0 {
		s.logger.Info("swept orphaned temp files",
			slog.Int("count", swept),
		)
	}
}

// kindDir returns the absolute directory for a kind.
func (s *Store) kindDir(kind authoring.Kind) string {
	return filepath.Join(s.root, kind.Folder())
}

// AssetFilePath maps a logical asset path to its on-disk location.
func (s *Store) AssetFilePath(logicalPath string) string {
	return filepath.Join(s.kindDir(authoring.KindAsset), filepath.FromSlash(strings.TrimPrefix(logicalPath, "/")))
}

// MetadataFilePath maps a JSON-kind artifact id to its on-disk location.
func (s *Store) MetadataFilePath(kind authoring.Kind, id string) string {
	return filepath.Join(s.kindDir(kind), id+".json")
}

// SidecarFilePath maps a logical asset path to its metadata sidecar.
func (s *Store) SidecarFilePath(logicalPath string) string {
	return s.AssetFilePath(logicalPath) + sidecarSuffix
}

// Enumerate lists the locally present artifacts of a kind. For the
// asset kind it walks the assets tree, skipping metadata sidecars and
// in-flight temp files; for JSON kinds it lists <id>.json files.
func (s *Store) Enumerate(kind authoring.Kind) ([]Entry, error) {
	if kind.Binary() {
		return s.enumerateAssets()
	}

	return s.enumerateJSON(kind)
}

func (s *Store) enumerateAssets() ([]Entry, error) {
	dir := s.kindDir(authoring.KindAsset)

	var entries []Entry

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}

			return walkErr
		}

		if d.IsDir() {
			if d.Name() == metadataDirName {
				return filepath.SkipDir
			}

			return nil
		}

		name := d.Name()
		if strings.HasSuffix(name, tempSuffix) || strings.HasSuffix(name, sidecarSuffix) {
			return nil
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}

		entries = append(entries, Entry{
			Path:     NormalizePath(filepath.ToSlash(rel)),
			FilePath: path,
		})

		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("local: walking assets: %w", err)
	}

	return entries, nil
}

func (s *Store) enumerateJSON(kind authoring.Kind) ([]Entry, error) {
	dir := s.kindDir(kind)

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("local: reading %s dir: %w", kind, err)
	}

	var entries []Entry

	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(de.Name(), ".json")
		entries = append(entries, Entry{
			Path:     id,
			FilePath: filepath.Join(dir, de.Name()),
		})
	}

	return entries, nil
}

// ReadMetadata loads the raw JSON document for a JSON-kind artifact.
func (s *Store) ReadMetadata(kind authoring.Kind, id string) (json.RawMessage, error) {
	data, err := os.ReadFile(s.MetadataFilePath(kind, id))
	if err != nil {
		return nil, fmt.Errorf("local: reading %s %s: %w", kind, id, err)
	}

	return data, nil
}

// ReadSidecar loads the metadata sidecar for an asset, if present.
func (s *Store) ReadSidecar(logicalPath string) (json.RawMessage, error) {
	data, err := os.ReadFile(s.SidecarFilePath(logicalPath))
	if err != nil {
		return nil, err
	}

	return data, nil
}

// WriteMetadata stores a JSON-kind artifact document atomically.
func (s *Store) WriteMetadata(kind authoring.Kind, id string, body json.RawMessage) error {
	path := s.MetadataFilePath(kind, id)

	return s.writeAtomic(path, body)
}

// WriteSidecar stores an asset metadata sidecar atomically.
func (s *Store) WriteSidecar(logicalPath string, body json.RawMessage) error {
	return s.writeAtomic(s.SidecarFilePath(logicalPath), body)
}

// writeAtomic writes data next to path and renames it into place.
func (s *Store) writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("local: creating dir for %s: %w", path, err)
	}

	tmp := path + tempSuffix

	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return fmt.Errorf("local: writing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("local: committing %s: %w", path, err)
	}

	return nil
}

// Remove deletes the on-disk file for an entry, ignoring absence.
func (s *Store) Remove(filePath string) error {
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("local: removing %s: %w", filePath, err)
	}

	return nil
}

// Exists reports whether the file for a logical asset path is present.
func (s *Store) Exists(logicalPath string) bool {
	_, err := os.Stat(s.AssetFilePath(logicalPath))

	return err == nil
}

// PendingFile is a reserved temp file for an in-flight download. The
// content is committed to the target path atomically, or aborted.
type PendingFile struct {
	f      *os.File
	target string
}

// Write implements io.Writer over the temp file.
func (p *PendingFile) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

// Commit closes the temp file and renames it onto the target path.
func (p *PendingFile) Commit() error {
	if err := p.f.Close(); err != nil {
		os.Remove(p.f.Name())

		return fmt.Errorf("local: closing temp for %s: %w", p.target, err)
	}

	if err := os.Rename(p.f.Name(), p.target); err != nil {
		os.Remove(p.f.Name())

		return fmt.Errorf("local: committing %s: %w", p.target, err)
	}

	return nil
}

// Abort discards the temp file, leaving any previous target intact.
func (p *PendingFile) Abort() {
	p.f.Close()
	os.Remove(p.f.Name())
}

// OpenWriteStream reserves a uniquely-named temp file next to the
// target for a logical asset path. The caller streams content into it
// and then calls Commit or Abort.
func (s *Store) OpenWriteStream(logicalPath string) (*PendingFile, error) {
	if err := ValidatePath(logicalPath); err != nil {
		return nil, err
	}

	target := s.AssetFilePath(logicalPath)

	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return nil, fmt.Errorf("local: creating dir for %s: %w", target, err)
	}

	f, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*"+tempSuffix)
	if err != nil {
		return nil, fmt.Errorf("local: reserving temp for %s: %w", target, err)
	}

	return &PendingFile{f: f, target: target}, nil
}
