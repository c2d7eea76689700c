package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/codekarta/filedock/internal/access"
	"github.com/codekarta/filedock/internal/logging"
	"github.com/codekarta/filedock/internal/metrics"
	"github.com/codekarta/filedock/pkg/models"
	"github.com/codekarta/filedock/pkg/protocol"
)

// DefaultPageSize is used when a list or search request omits a limit.
const DefaultPageSize = 50

// Ops implements the storage operations on tenant roots. Every method
// re-resolves its logical paths through the Resolver immediately before
// touching disk. Multi-step operations are not transactional: a crash
// between steps can leave an orphaned temp file, cleaned up by an
// out-of-band sweep rather than heavyweight transactions.
type Ops struct {
	resolver *Resolver
	access   access.Store
	workers  int

	searchMaxDepth int
	searchMaxNodes int
}

// Options tunes an Ops instance.
type Options struct {
	UploadWorkers  int // bounded upload pool size, default 4
	SearchMaxDepth int // worklist depth cap, default 64
	SearchMaxNodes int // worklist visited-node cap, default 250000
}

// NewOps creates the storage operations layer.
func NewOps(resolver *Resolver, accessStore access.Store, opts Options) *Ops {
	if opts.UploadWorkers <= 0 {
		opts.UploadWorkers = 4
	}
	if opts.SearchMaxDepth <= 0 {
		opts.SearchMaxDepth = 64
	}
	if opts.SearchMaxNodes <= 0 {
		opts.SearchMaxNodes = 250000
	}
	return &Ops{
		resolver:       resolver,
		access:         accessStore,
		workers:        opts.UploadWorkers,
		searchMaxDepth: opts.SearchMaxDepth,
		searchMaxNodes: opts.SearchMaxNodes,
	}
}

// Resolver exposes the underlying path resolver.
func (o *Ops) Resolver() *Resolver { return o.resolver }

// entry builds a FileEntry for a stat'd path.
func (o *Ops) entry(ctx context.Context, tenantID, logical string, info os.FileInfo) (models.FileEntry, error) {
	level, err := access.Effective(ctx, o.access, tenantID, logical)
	if err != nil {
		return models.FileEntry{}, fmt.Errorf("access level for %s: %w", logical, err)
	}
	return models.FileEntry{
		Name:        info.Name(),
		Path:        logical,
		IsDir:       info.IsDir(),
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		CreatedAt:   info.ModTime(),
		AccessLevel: level,
		TenantID:    tenantID,
	}, nil
}

func fsKind(err error) Kind {
	switch {
	case os.IsNotExist(err):
		return KindNotFound
	case os.IsPermission(err):
		return KindPermission
	default:
		return KindInternal
	}
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, "/\\")
}

// Stat returns the entry for a single logical path.
func (o *Ops) Stat(ctx context.Context, tenantID, logical string) (models.FileEntry, error) {
	const op = "stat"
	logical = CleanLogical(logical)
	abs, err := o.resolver.Resolve(ctx, tenantID, logical)
	if err != nil {
		return models.FileEntry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	return o.entry(ctx, tenantID, logical, info)
}

// List returns one page of a directory, sorted directories-first then
// case-insensitive name.
func (o *Ops) List(ctx context.Context, tenantID, dirPath string, page, pageSize int, showHidden bool) ([]models.FileEntry, protocol.Pagination, error) {
	const op = "list"
	dirPath = CleanLogical(dirPath)
	abs, err := o.resolver.Resolve(ctx, tenantID, dirPath)
	if err != nil {
		return nil, protocol.Pagination{}, err
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, protocol.Pagination{}, newError(op, tenantID, dirPath, fsKind(err), err)
	}

	entries := make([]models.FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !showHidden && strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info; skip it.
			continue
		}
		e, err := o.entry(ctx, tenantID, path.Join(dirPath, de.Name()), info)
		if err != nil {
			return nil, protocol.Pagination{}, newError(op, tenantID, dirPath, KindInternal, err)
		}
		entries = append(entries, e)
	}
	models.SortEntries(entries)

	paged, pg := Paginate(entries, page, pageSize)
	return paged, pg, nil
}

// Paginate slices items into the requested page window.
func Paginate(items []models.FileEntry, page, pageSize int) ([]models.FileEntry, protocol.Pagination) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return items[start:end], protocol.Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
		TotalItems: total,
	}
}

// UploadFile is one incoming file of an upload batch.
type UploadFile struct {
	Name         string
	RelativePath string // optional folder-structure path relative to the base
	Data         []byte
}

// UploadResult is the per-file outcome of an upload batch. Files that
// were already placed when a later file fails are not rolled back.
type UploadResult struct {
	Uploaded    []models.FileEntry
	Failures    []protocol.UploadFailure
	DirsCreated int
}

// Upload places a batch of files under basePath, recursively creating
// parent directories. Files are processed by a bounded worker pool; a
// shared reserved-target set prevents two workers from racing for the
// same name. One file's failure is reported per-file and never aborts
// or rolls back the rest.
func (o *Ops) Upload(ctx context.Context, tenantID, basePath string, files []UploadFile, level models.AccessLevel) (*UploadResult, error) {
	const op = "upload"
	basePath = CleanLogical(basePath)
	if level == "" {
		level = models.AccessPrivate
	}
	if !level.Valid() {
		return nil, newError(op, tenantID, basePath, KindInvalidQuery, fmt.Errorf("invalid access level %q", level))
	}
	if _, err := o.resolver.Resolve(ctx, tenantID, basePath); err != nil {
		return nil, err
	}

	var (
		mu          sync.Mutex
		reserved    = make(map[string]struct{})
		createdDirs = make(map[string]struct{})
		result      UploadResult
	)

	reserve := func(logical string) bool {
		mu.Lock()
		defer mu.Unlock()
		if _, taken := reserved[logical]; taken {
			return false
		}
		reserved[logical] = struct{}{}
		return true
	}

	placeOne := func(f UploadFile) (models.FileEntry, error) {
		rel := f.RelativePath
		if rel == "" {
			rel = f.Name
		}
		logical := CleanLogical(path.Join(basePath, rel))
		if !reserve(logical) {
			return models.FileEntry{}, newError(op, tenantID, logical, KindConflict, fmt.Errorf("duplicate target in batch"))
		}
		abs, err := o.resolver.Resolve(ctx, tenantID, logical)
		if err != nil {
			return models.FileEntry{}, err
		}

		dir := filepath.Dir(abs)
		newDirs, err := ensureDir(dir)
		if err != nil {
			return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
		}
		mu.Lock()
		for _, d := range newDirs {
			createdDirs[d] = struct{}{}
		}
		mu.Unlock()

		if err := atomicWrite(abs, f.Data); err != nil {
			return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
		}
		if err := o.access.SetLevel(ctx, tenantID, logical, level); err != nil {
			logging.Warn("record access level failed",
				zap.String("tenant", tenantID), zap.String("path", logical), zap.Error(err))
		}

		info, err := os.Stat(abs)
		if err != nil {
			return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
		}
		return o.entry(ctx, tenantID, logical, info)
	}

	jobs := make(chan UploadFile)
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				entry, err := placeOne(f)
				mu.Lock()
				if err != nil {
					result.Failures = append(result.Failures, protocol.UploadFailure{
						Name:  f.Name,
						Error: err.Error(),
					})
					metrics.RecordUploadFile(0, false)
				} else {
					result.Uploaded = append(result.Uploaded, entry)
					metrics.RecordUploadFile(entry.Size, true)
				}
				mu.Unlock()
			}
		}()
	}

	for _, f := range files {
		select {
		case <-ctx.Done():
			// Stop feeding; files already placed stay placed.
			goto done
		case jobs <- f:
		}
	}
done:
	close(jobs)
	wg.Wait()

	result.DirsCreated = len(createdDirs)
	models.SortEntries(result.Uploaded)
	logging.Info("upload batch finished",
		zap.String("tenant", tenantID),
		zap.String("base", basePath),
		zap.Int("uploaded", len(result.Uploaded)),
		zap.Int("failed", len(result.Failures)),
		zap.Int("dirs_created", result.DirsCreated))
	return &result, ctx.Err()
}

// ensureDir creates dir and any missing parents, returning the
// directories that did not exist before.
func ensureDir(dir string) ([]string, error) {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := os.Stat(d); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return nil, err
		}
		missing = append(missing, d)
		if filepath.Dir(d) == d {
			break
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return missing, nil
}

// atomicWrite places content via temp file + rename so readers never
// observe a half-written file.
func atomicWrite(abs string, data []byte) error {
	dir := filepath.Dir(abs)
	tmp, err := os.CreateTemp(dir, ".filedock-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// CreateFolder creates a directory (and missing parents) under dirPath.
func (o *Ops) CreateFolder(ctx context.Context, tenantID, dirPath, name string) (models.FileEntry, error) {
	const op = "create_folder"
	if !validName(name) {
		return models.FileEntry{}, newError(op, tenantID, dirPath, KindInvalidQuery, fmt.Errorf("invalid folder name %q", name))
	}
	logical := CleanLogical(path.Join(dirPath, name))
	abs, err := o.resolver.Resolve(ctx, tenantID, logical)
	if err != nil {
		return models.FileEntry{}, err
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		return models.FileEntry{}, newError(op, tenantID, logical, KindConflict, fmt.Errorf("a file with that name exists"))
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	return o.entry(ctx, tenantID, logical, info)
}

// CreateFile writes a new file under dirPath. Existing targets are a
// conflict; uploads are the overwrite path.
func (o *Ops) CreateFile(ctx context.Context, tenantID, dirPath, name string, content []byte, level models.AccessLevel) (models.FileEntry, error) {
	const op = "create_file"
	if !validName(name) {
		return models.FileEntry{}, newError(op, tenantID, dirPath, KindInvalidQuery, fmt.Errorf("invalid file name %q", name))
	}
	if level == "" {
		level = models.AccessPrivate
	}
	if !level.Valid() {
		return models.FileEntry{}, newError(op, tenantID, dirPath, KindInvalidQuery, fmt.Errorf("invalid access level %q", level))
	}
	logical := CleanLogical(path.Join(dirPath, name))
	abs, err := o.resolver.Resolve(ctx, tenantID, logical)
	if err != nil {
		return models.FileEntry{}, err
	}
	if _, err := os.Stat(abs); err == nil {
		return models.FileEntry{}, newError(op, tenantID, logical, KindConflict, fmt.Errorf("target exists"))
	}
	if _, err := ensureDir(filepath.Dir(abs)); err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	if err := atomicWrite(abs, content); err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	if err := o.access.SetLevel(ctx, tenantID, logical, level); err != nil {
		logging.Warn("record access level failed",
			zap.String("tenant", tenantID), zap.String("path", logical), zap.Error(err))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	return o.entry(ctx, tenantID, logical, info)
}

// Rename changes an entry's name within its directory. Renaming to the
// current name is a no-op, not an error. Both endpoints are
// re-validated through the resolver.
func (o *Ops) Rename(ctx context.Context, tenantID, logical, newName string) (models.FileEntry, error) {
	const op = "rename"
	logical = CleanLogical(logical)
	if !validName(newName) {
		return models.FileEntry{}, newError(op, tenantID, logical, KindInvalidQuery, fmt.Errorf("invalid name %q", newName))
	}
	abs, err := o.resolver.Resolve(ctx, tenantID, logical)
	if err != nil {
		return models.FileEntry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	if newName == path.Base(logical) {
		return o.entry(ctx, tenantID, logical, info)
	}

	target := CleanLogical(path.Join(path.Dir(logical), newName))
	targetAbs, err := o.resolver.Resolve(ctx, tenantID, target)
	if err != nil {
		return models.FileEntry{}, err
	}
	if _, err := os.Stat(targetAbs); err == nil {
		return models.FileEntry{}, newError(op, tenantID, target, KindConflict, fmt.Errorf("target exists"))
	}
	if err := os.Rename(abs, targetAbs); err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	if err := o.access.MovePrefix(ctx, tenantID, logical, target); err != nil {
		logging.Warn("move access records failed",
			zap.String("tenant", tenantID), zap.String("path", logical), zap.Error(err))
	}
	newInfo, err := os.Stat(targetAbs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, target, fsKind(err), err)
	}
	return o.entry(ctx, tenantID, target, newInfo)
}

// Move relocates an entry into the destination directory. Moving an
// entry onto itself or into its own descendant is rejected.
func (o *Ops) Move(ctx context.Context, tenantID, logical, destDir string) (models.FileEntry, error) {
	const op = "move"
	logical = CleanLogical(logical)
	destDir = CleanLogical(destDir)

	if destDir == logical || strings.HasPrefix(destDir, logical+"/") {
		return models.FileEntry{}, newError(op, tenantID, logical, KindConflict, fmt.Errorf("cannot move into itself or a descendant"))
	}

	abs, err := o.resolver.Resolve(ctx, tenantID, logical)
	if err != nil {
		return models.FileEntry{}, err
	}
	if _, err := os.Stat(abs); err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}

	destAbs, err := o.resolver.Resolve(ctx, tenantID, destDir)
	if err != nil {
		return models.FileEntry{}, err
	}
	destInfo, err := os.Stat(destAbs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, destDir, fsKind(err), err)
	}
	if !destInfo.IsDir() {
		return models.FileEntry{}, newError(op, tenantID, destDir, KindConflict, fmt.Errorf("destination is not a directory"))
	}

	target := CleanLogical(path.Join(destDir, path.Base(logical)))
	targetAbs, err := o.resolver.Resolve(ctx, tenantID, target)
	if err != nil {
		return models.FileEntry{}, err
	}
	if _, err := os.Stat(targetAbs); err == nil {
		return models.FileEntry{}, newError(op, tenantID, target, KindConflict, fmt.Errorf("target exists"))
	}
	if err := os.Rename(abs, targetAbs); err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	if err := o.access.MovePrefix(ctx, tenantID, logical, target); err != nil {
		logging.Warn("move access records failed",
			zap.String("tenant", tenantID), zap.String("path", logical), zap.Error(err))
	}
	info, err := os.Stat(targetAbs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, target, fsKind(err), err)
	}
	return o.entry(ctx, tenantID, target, info)
}

// Duplicate copies an entry to a collision-free sibling name:
// "report.pdf" -> "report (copy).pdf" -> "report (copy 2).pdf".
// Directories are copied recursively.
func (o *Ops) Duplicate(ctx context.Context, tenantID, logical string) (models.FileEntry, error) {
	const op = "duplicate"
	logical = CleanLogical(logical)
	abs, err := o.resolver.Resolve(ctx, tenantID, logical)
	if err != nil {
		return models.FileEntry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}

	dir := path.Dir(logical)
	var target, targetAbs string
	for n := 1; ; n++ {
		candidate := copyName(path.Base(logical), info.IsDir(), n)
		target = CleanLogical(path.Join(dir, candidate))
		targetAbs, err = o.resolver.Resolve(ctx, tenantID, target)
		if err != nil {
			return models.FileEntry{}, err
		}
		if _, err := os.Stat(targetAbs); os.IsNotExist(err) {
			break
		}
	}

	if info.IsDir() {
		err = copyDir(abs, targetAbs)
	} else {
		err = copyFile(abs, targetAbs)
	}
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}

	level, err := access.Effective(ctx, o.access, tenantID, logical)
	if err == nil {
		if err := o.access.SetLevel(ctx, tenantID, target, level); err != nil {
			logging.Warn("record access level failed",
				zap.String("tenant", tenantID), zap.String("path", target), zap.Error(err))
		}
	}

	newInfo, err := os.Stat(targetAbs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, target, fsKind(err), err)
	}
	return o.entry(ctx, tenantID, target, newInfo)
}

func copyName(name string, isDir bool, n int) string {
	ext := ""
	stem := name
	if !isDir {
		ext = path.Ext(name)
		stem = strings.TrimSuffix(name, ext)
	}
	if n <= 1 {
		return stem + " (copy)" + ext
	}
	return fmt.Sprintf("%s (copy %d)%s", stem, n, ext)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, ".filedock-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, de := range entries {
		s := filepath.Join(src, de.Name())
		d := filepath.Join(dst, de.Name())
		if de.IsDir() {
			if err := copyDir(s, d); err != nil {
				return err
			}
		} else {
			if err := copyFile(s, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete removes a file or, recursively, a directory. The tenant root
// itself is never deleted.
func (o *Ops) Delete(ctx context.Context, tenantID, logical string) error {
	const op = "delete"
	logical = CleanLogical(logical)
	if logical == "/" {
		return newError(op, tenantID, logical, KindPermission, errors.New("refusing to delete tenant root"))
	}
	abs, err := o.resolver.Resolve(ctx, tenantID, logical)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return newError(op, tenantID, logical, fsKind(err), err)
	}
	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return newError(op, tenantID, logical, fsKind(err), err)
	}
	if err := o.access.DeletePrefix(ctx, tenantID, logical); err != nil {
		logging.Warn("drop access records failed",
			zap.String("tenant", tenantID), zap.String("path", logical), zap.Error(err))
	}
	logging.Info("deleted",
		zap.String("tenant", tenantID),
		zap.String("path", logical),
		zap.Bool("dir", info.IsDir()))
	return nil
}

// SetAccessLevel records the access level for an existing entry.
// Setting the current level again is a no-op.
func (o *Ops) SetAccessLevel(ctx context.Context, tenantID, logical string, level models.AccessLevel) (models.FileEntry, error) {
	const op = "set_access_level"
	logical = CleanLogical(logical)
	if !level.Valid() {
		return models.FileEntry{}, newError(op, tenantID, logical, KindInvalidQuery, fmt.Errorf("invalid access level %q", level))
	}
	abs, err := o.resolver.Resolve(ctx, tenantID, logical)
	if err != nil {
		return models.FileEntry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	if err := o.access.SetLevel(ctx, tenantID, logical, level); err != nil {
		return models.FileEntry{}, newError(op, tenantID, logical, KindInternal, err)
	}
	return o.entry(ctx, tenantID, logical, info)
}

// Open opens a file's bytes for serving. Directories are a conflict.
func (o *Ops) Open(ctx context.Context, tenantID, logical string) (io.ReadCloser, models.FileEntry, error) {
	const op = "open"
	logical = CleanLogical(logical)
	abs, err := o.resolver.Resolve(ctx, tenantID, logical)
	if err != nil {
		return nil, models.FileEntry{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	if info.IsDir() {
		return nil, models.FileEntry{}, newError(op, tenantID, logical, KindConflict, fmt.Errorf("is a directory"))
	}
	entry, err := o.entry(ctx, tenantID, logical, info)
	if err != nil {
		return nil, models.FileEntry{}, newError(op, tenantID, logical, KindInternal, err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, models.FileEntry{}, newError(op, tenantID, logical, fsKind(err), err)
	}
	return f, entry, nil
}
