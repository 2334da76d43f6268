package basecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"golang.org/x/sys/unix"

	"subforge/internal/fileutil"
	"subforge/internal/logging"
)

// evict removes entries past the TTL, then oldest entries until the size
// budget and free-space floor are satisfied. keepDir protects the entry that
// was just published. Eviction across concurrent processes is serialized
// with a file lock; a held lock means another job is already pruning, so
// this pass is skipped.
func (s *Store) evict(ctx context.Context, keepDir string) error {
	locked, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire eviction lock: %w", err)
	}
	if !locked {
		return nil
	}
	defer func() { _ = s.lock.Unlock() }()

	entries, err := s.scan()
	if err != nil {
		return err
	}

	type sized struct {
		entry Entry
		bytes int64
	}
	remaining := make([]sized, 0, len(entries))
	var total int64
	now := s.now()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.ttl > 0 && !entry.Meta.CreatedAt.IsZero() && now.After(entry.Meta.CreatedAt.Add(s.ttl)) && entry.Dir != keepDir {
			s.removeEntry(ctx, entry, "ttl expired")
			continue
		}
		bytes, err := fileutil.DirSize(entry.Dir)
		if err != nil {
			bytes = entry.SizeBytes()
		}
		remaining = append(remaining, sized{entry: entry, bytes: bytes})
		total += bytes
	}

	sort.Slice(remaining, func(i, j int) bool {
		return remaining[i].entry.Meta.CreatedAt.Before(remaining[j].entry.Meta.CreatedAt)
	})

	for len(remaining) > 0 {
		freeOK, err := s.freeSpaceOK()
		if err != nil {
			return err
		}
		if total <= s.maxBytes && freeOK {
			return nil
		}
		oldest := remaining[0]
		if oldest.entry.Dir == keepDir {
			if len(remaining) == 1 {
				return fmt.Errorf("cache over limits and active entry %q cannot be pruned", keepDir)
			}
			remaining = remaining[1:]
			continue
		}
		s.removeEntry(ctx, oldest.entry, "size budget exceeded")
		total -= oldest.bytes
		remaining = remaining[1:]
	}
	return nil
}

func (s *Store) removeEntry(ctx context.Context, entry Entry, reason string) {
	if err := os.RemoveAll(entry.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.WarnContext(ctx, "failed to evict cache entry",
			logging.String("entry_dir", entry.Dir),
			logging.Error(err),
		)
		return
	}
	s.logger.InfoContext(ctx, "evicted cache entry",
		logging.String(logging.FieldEventType, "cache_evicted"),
		logging.String(logging.FieldMediaID, identityShort(entry.Meta.MediaID)),
		logging.String("reason", reason),
	)
}

func (s *Store) freeSpaceOK() (bool, error) {
	total, free, err := s.statfs(s.root)
	if err != nil {
		return false, fmt.Errorf("statfs cache root: %w", err)
	}
	if total == 0 {
		return true, nil
	}
	return float64(free)/float64(total) >= freeSpaceFloor, nil
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

func identityShort(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
