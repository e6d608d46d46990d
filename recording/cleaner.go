package recording

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"crossbar/internal/logging"
)

// RetentionPolicy bounds how many recording bundles, or how much age, a
// Cleaner keeps on disk.
type RetentionPolicy struct {
	MaxRecordings int
	MaxAge        time.Duration
}

// StorageStats summarises the disk footprint a Cleaner observed on its last
// sweep.
type StorageStats struct {
	Recordings int
	Sidecars   int
	Bytes      int64
	LastSweep  time.Time
}

// Cleaner periodically prunes recording bundles (a frame file plus its
// optional .index and .meta.json sidecars sharing a common basename)
// according to a RetentionPolicy, grounded on the host application's replay
// cleaner adapted from match artefacts to recording bundles.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the recordings directory dir.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps on interval until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep, primarily used for tests.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundle struct {
	name     string
	frames   []string
	indexes  []string
	sidecars []string
	size     int64
	modTime  time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("recording retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	bundles := c.collect(entries)
	now := c.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, b := range bundles {
		shouldRemove, reason := c.shouldRemove(b, now, kept)
		if shouldRemove {
			if err := c.remove(b); err != nil {
				c.log.Warn("recording retention removal failed", logging.Error(err), logging.String("bundle", b.name))
				stats.Recordings++
				stats.Sidecars += len(b.indexes) + len(b.sidecars)
				stats.Bytes += b.size
				kept++
			} else {
				c.log.Info("recording retention removed bundle", logging.String("bundle", b.name), logging.String("reason", reason))
			}
			continue
		}
		kept++
		stats.Recordings++
		stats.Sidecars += len(b.indexes) + len(b.sidecars)
		stats.Bytes += b.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []*bundle {
	bundles := make(map[string]*bundle, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		base := name
		kind := "frame"
		switch {
		case strings.HasSuffix(name, ".index"):
			base = strings.TrimSuffix(name, ".index")
			kind = "index"
		case strings.HasSuffix(name, ".meta.json"):
			base = strings.TrimSuffix(name, ".meta.json")
			kind = "sidecar"
		}
		path := filepath.Join(c.dir, name)
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("recording retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		b := bundles[base]
		if b == nil {
			b = &bundle{name: base, modTime: info.ModTime()}
			bundles[base] = b
		}
		if info.ModTime().After(b.modTime) {
			b.modTime = info.ModTime()
		}
		switch kind {
		case "index":
			b.indexes = append(b.indexes, path)
		case "sidecar":
			b.sidecars = append(b.sidecars, path)
		default:
			b.frames = append(b.frames, path)
		}
		b.size += info.Size()
	}
	list := make([]*bundle, 0, len(bundles))
	for _, b := range bundles {
		list = append(list, b)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].modTime.After(list[j].modTime) })
	return list
}

func (c *Cleaner) shouldRemove(b *bundle, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxRecordings > 0 && kept >= c.policy.MaxRecordings {
		reasons = append(reasons, fmt.Sprintf(">=%d recordings", c.policy.MaxRecordings))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

func (c *Cleaner) remove(b *bundle) error {
	var errs error
	for _, path := range append(append([]string{}, b.frames...), b.indexes...) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = errors.Join(errs, err)
		}
	}
	for _, path := range b.sidecars {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}
