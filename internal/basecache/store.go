package basecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"subforge/internal/config"
	"subforge/internal/fileutil"
	"subforge/internal/identity"
	"subforge/internal/logging"
	"subforge/internal/services"
)

// freeSpaceFloor is the minimum free-space ratio allowed before pruning
// kicks in regardless of the configured size budget.
const freeSpaceFloor = 0.10

type statfsFunc func(path string) (total uint64, free uint64, err error)

// Store is the content-addressed baseline artifact cache. Entries are keyed
// by (media identity, config fingerprint); publication is atomic per entry
// and lookups verify every artifact checksum before reporting a hit.
type Store struct {
	root     string
	ttl      time.Duration
	maxBytes int64
	logger   *slog.Logger
	statfs   statfsFunc
	lock     *flock.Flock
	now      func() time.Time
}

// NewStore builds a cache store when caching is enabled; returns nil when
// disabled or misconfigured (a nil *Store is a safe no-op for all methods).
func NewStore(cfg *config.Config, logger *slog.Logger) *Store {
	if cfg == nil || !cfg.Cache.Enabled {
		return nil
	}
	root := strings.TrimSpace(cfg.Paths.CacheDir)
	if root == "" || cfg.Cache.MaxGiB <= 0 {
		return nil
	}
	return &Store{
		root:     root,
		ttl:      time.Duration(cfg.Cache.TTLDays) * 24 * time.Hour,
		maxBytes: int64(cfg.Cache.MaxGiB * 1024 * 1024 * 1024),
		logger:   logging.NewComponentLogger(logger, "basecache"),
		statfs:   realStatfs,
		lock:     flock.New(filepath.Join(root, ".evict.lock")),
		now:      time.Now,
	}
}

// Lookup returns the verified cache entry for (id, fingerprint). Any artifact
// whose checksum no longer matches marks the whole entry corrupt: it is
// removed, a warning is logged, and the lookup reports a miss. Corruption is
// never surfaced as an error to the caller.
func (s *Store) Lookup(ctx context.Context, id identity.Identity, fingerprint string) (*Entry, bool) {
	if s == nil {
		return nil, false
	}
	dir := s.entryDir(id, fingerprint)
	meta, err := readMetadata(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false
		}
		s.dropCorrupt(ctx, dir, err)
		return nil, false
	}

	for _, artifact := range meta.Artifacts {
		path := filepath.Join(dir, artifact.Name)
		info, err := os.Stat(path)
		if err != nil || info.Size() != artifact.Size {
			s.dropCorrupt(ctx, dir, services.Wrap(services.ErrCacheCorruption, "basecache", "verify", artifact.Name+" missing or resized", err))
			return nil, false
		}
		digest, err := fileutil.HashFile(path)
		if err != nil || digest != artifact.SHA256 {
			s.dropCorrupt(ctx, dir, services.Wrap(services.ErrCacheCorruption, "basecache", "verify", artifact.Name+" checksum mismatch", err))
			return nil, false
		}
	}

	if s.ttl > 0 && s.now().After(meta.CreatedAt.Add(s.ttl)) {
		s.logger.InfoContext(ctx, "cache entry expired",
			logging.String(logging.FieldEventType, "cache_expired"),
			logging.String(logging.FieldMediaID, id.Short()),
		)
		_ = os.RemoveAll(dir)
		return nil, false
	}

	return &Entry{Dir: dir, Meta: meta}, true
}

// Store publishes artifacts from srcDir into the cache. Publication is
// best-effort: failures are logged as warnings and never fail the job; the
// next run simply misses the cache again. The entry becomes visible only via
// a final directory rename, so concurrent readers never observe a partial
// entry; a concurrent writer to the same key wins by being last.
func (s *Store) Store(ctx context.Context, id identity.Identity, fingerprint, srcDir string, artifactNames []string, stageVersions map[string]string) {
	if s == nil {
		return
	}
	if err := s.store(ctx, id, fingerprint, srcDir, artifactNames, stageVersions); err != nil {
		s.logger.WarnContext(ctx, "baseline cache store failed",
			logging.String(logging.FieldEventType, "cache_store_failed"),
			logging.String(logging.FieldMediaID, id.Short()),
			logging.String(logging.FieldImpact, "next run will regenerate baseline stages"),
			logging.Error(err),
		)
		return
	}
	s.logger.InfoContext(ctx, "stored baseline cache entry",
		logging.String(logging.FieldEventType, "cache_stored"),
		logging.String(logging.FieldMediaID, id.Short()),
		logging.Int("artifacts", len(artifactNames)),
	)
	if err := s.evict(ctx, s.entryDir(id, fingerprint)); err != nil {
		s.logger.WarnContext(ctx, "cache eviction failed", logging.Error(err))
	}
}

func (s *Store) store(ctx context.Context, id identity.Identity, fingerprint, srcDir string, artifactNames []string, stageVersions map[string]string) error {
	if len(artifactNames) == 0 {
		return services.Wrap(services.ErrCacheWrite, "basecache", "store", "no artifacts declared", nil)
	}
	if err := os.MkdirAll(filepath.Dir(s.entryDir(id, fingerprint)), 0o755); err != nil {
		return services.Wrap(services.ErrCacheWrite, "basecache", "store", "create cache directory", err)
	}

	staging, err := os.MkdirTemp(s.root, ".publish-")
	if err != nil {
		return services.Wrap(services.ErrCacheWrite, "basecache", "store", "create staging directory", err)
	}
	defer os.RemoveAll(staging)

	meta := EntryMetadata{
		Version:           metadataVersion,
		MediaID:           string(id),
		ConfigFingerprint: fingerprint,
		CreatedAt:         s.now().UTC(),
		StageVersions:     stageVersions,
	}
	for _, name := range artifactNames {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(srcDir, name)
		dst := filepath.Join(staging, name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return services.Wrap(services.ErrCacheWrite, "basecache", "store", name, err)
		}
		if err := fileutil.CopyFileVerified(src, dst); err != nil {
			return services.Wrap(services.ErrCacheWrite, "basecache", "store", name, err)
		}
		info, err := os.Stat(dst)
		if err != nil {
			return services.Wrap(services.ErrCacheWrite, "basecache", "store", name, err)
		}
		digest, err := fileutil.HashFile(dst)
		if err != nil {
			return services.Wrap(services.ErrCacheWrite, "basecache", "store", name, err)
		}
		meta.Artifacts = append(meta.Artifacts, Artifact{Name: name, Size: info.Size(), SHA256: digest})
	}

	if err := writeMetadata(staging, meta); err != nil {
		return services.Wrap(services.ErrCacheWrite, "basecache", "store", "metadata", err)
	}

	dest := s.entryDir(id, fingerprint)
	if err := os.RemoveAll(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrCacheWrite, "basecache", "store", "replace existing entry", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		return services.Wrap(services.ErrCacheWrite, "basecache", "store", "publish entry", err)
	}
	return nil
}

// Restore copies a cache entry's artifacts into destDir at the same relative
// locations the live stages would have produced, so downstream stages cannot
// distinguish a hit from a fresh run.
func (s *Store) Restore(ctx context.Context, entry *Entry, destDir string) error {
	if s == nil || entry == nil {
		return errors.New("basecache: nothing to restore")
	}
	for _, artifact := range entry.Meta.Artifacts {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := filepath.Join(entry.Dir, artifact.Name)
		dst := filepath.Join(destDir, artifact.Name)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("restore %s: %w", artifact.Name, err)
		}
		if err := fileutil.CopyFileVerified(src, dst); err != nil {
			return fmt.Errorf("restore %s: %w", artifact.Name, err)
		}
	}
	return nil
}

// Invalidate removes every entry for the given identity across all config
// fingerprints.
func (s *Store) Invalidate(id identity.Identity) error {
	if s == nil {
		return nil
	}
	dir := filepath.Join(s.root, string(id))
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("invalidate %s: %w", id.Short(), err)
	}
	return nil
}

// InvalidateAll clears the whole cache.
func (s *Store) InvalidateAll() error {
	if s == nil {
		return nil
	}
	entries, err := s.scan()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(entry.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", entry.Dir, err)
		}
	}
	return nil
}

// List returns all entries, newest first, without checksum verification.
func (s *Store) List() ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	entries, err := s.scan()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Meta.CreatedAt.After(entries[j].Meta.CreatedAt)
	})
	return entries, nil
}

// VerifyResult describes the outcome of a full cache verification pass.
type VerifyResult struct {
	Checked int
	Dropped []string
}

// Verify checks every entry's artifact checksums, dropping corrupt entries.
func (s *Store) Verify(ctx context.Context) (VerifyResult, error) {
	var result VerifyResult
	if s == nil {
		return result, nil
	}
	entries, err := s.scan()
	if err != nil {
		return result, err
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Checked++
		if _, ok := s.Lookup(ctx, identity.Identity(entry.Meta.MediaID), entry.Meta.ConfigFingerprint); !ok {
			result.Dropped = append(result.Dropped, entry.Meta.MediaID)
		}
	}
	return result, nil
}

func (s *Store) entryDir(id identity.Identity, fingerprint string) string {
	return filepath.Join(s.root, string(id), fingerprint)
}

func (s *Store) dropCorrupt(ctx context.Context, dir string, cause error) {
	s.logger.WarnContext(ctx, "dropping corrupt cache entry",
		logging.String(logging.FieldEventType, "cache_corrupt"),
		logging.String("entry_dir", dir),
		logging.String(logging.FieldImpact, "baseline stages will be regenerated"),
		logging.Error(cause),
	)
	_ = os.RemoveAll(dir)
}

// scan walks root collecting entry directories (identity/fingerprint depth).
func (s *Store) scan() ([]Entry, error) {
	var entries []Entry
	idDirs, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan cache root: %w", err)
	}
	for _, idDir := range idDirs {
		if !idDir.IsDir() || strings.HasPrefix(idDir.Name(), ".") {
			continue
		}
		fpDirs, err := os.ReadDir(filepath.Join(s.root, idDir.Name()))
		if err != nil {
			continue
		}
		for _, fpDir := range fpDirs {
			if !fpDir.IsDir() {
				continue
			}
			dir := filepath.Join(s.root, idDir.Name(), fpDir.Name())
			meta, err := readMetadata(dir)
			if err != nil {
				// Unreadable metadata still counts for eviction by mtime.
				meta = EntryMetadata{MediaID: idDir.Name(), ConfigFingerprint: fpDir.Name()}
				if info, statErr := os.Stat(dir); statErr == nil {
					meta.CreatedAt = info.ModTime()
				}
			}
			entries = append(entries, Entry{Dir: dir, Meta: meta})
		}
	}
	return entries, nil
}
