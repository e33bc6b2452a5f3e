// Package ttscache is a content-addressed cache for synthesized speech.
//
// Cache keys are derived from the text and voice, so identical requests map
// to the same MP3 file and synthesis happens at most once per key: concurrent
// requests for the same key collapse onto one upstream call via singleflight,
// and completed files survive restarts because the cache rebuilds its index
// from the directory on startup.
package ttscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/saylens/saylens/internal/observe"
	"github.com/saylens/saylens/internal/upstream"
	"github.com/saylens/saylens/pkg/provider/tts"
)

// keyLen is the number of hex digits kept from the content hash. 64 bits of
// hash is plenty for a cache that tops out at thousands of entries.
const keyLen = 16

var fileNamePattern = regexp.MustCompile(`^tts_([a-f0-9]{16})\.mp3$`)

// Entry describes a cache lookup result.
type Entry struct {
	// FileName is the cached file's name within the cache directory, of the
	// form "tts_<hash>.mp3".
	FileName string

	// Path is the absolute path to the cached file.
	Path string

	// Cached reports whether the file existed before this call.
	Cached bool
}

// Option is a functional option for configuring a [Cache].
type Option func(*Cache)

// WithMetrics overrides the metrics instance. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// Cache synthesizes speech through a [tts.Provider] and stores the results as
// content-addressed MP3 files. Safe for concurrent use.
type Cache struct {
	dir     string
	synth   tts.Provider
	guard   *upstream.Guard
	metrics *observe.Metrics

	group singleflight.Group

	mu    sync.RWMutex
	index map[string]string // key -> file name
}

// New returns a [Cache] rooted at dir, creating the directory if needed and
// indexing any cache files already present. guard bounds concurrent upstream
// synthesis calls and applies the retry policy.
func New(dir string, synth tts.Provider, guard *upstream.Guard, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ttscache: create dir: %w", err)
	}
	c := &Cache{
		dir:     dir,
		synth:   synth,
		guard:   guard,
		metrics: observe.DefaultMetrics(),
		index:   make(map[string]string),
	}
	for _, o := range opts {
		o(c)
	}
	if err := c.loadIndex(); err != nil {
		return nil, err
	}
	return c, nil
}

// loadIndex scans the cache directory for files written by earlier runs.
func (c *Cache) loadIndex() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("ttscache: scan dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		c.index[m[1]] = e.Name()
	}
	return nil
}

// FilePath returns the absolute path for a cache file name. It does not
// check existence; callers serving files get the usual not-found handling
// from the filesystem.
func (c *Cache) FilePath(name string) string {
	return filepath.Join(c.dir, filepath.Base(name))
}

// Len returns the number of indexed cache entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Key returns the cache key for a text/voice pair.
func Key(text, voice string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text) + "|" + voice))
	return hex.EncodeToString(sum[:])[:keyLen]
}

// Synthesize returns the cached audio for text spoken by voice, synthesizing
// and storing it on a miss. Concurrent misses for the same key perform a
// single upstream call; every waiter gets the same entry.
func (c *Cache) Synthesize(ctx context.Context, text, voice string) (*Entry, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("ttscache: empty text")
	}
	key := Key(text, voice)

	if name, ok := c.lookup(key); ok {
		c.metrics.RecordTTSCacheLookup(ctx, "hit")
		return &Entry{FileName: name, Path: filepath.Join(c.dir, name), Cached: true}, nil
	}
	c.metrics.RecordTTSCacheLookup(ctx, "miss")

	name, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have filled
		// the entry between the lookup and joining the group.
		if name, ok := c.lookup(key); ok {
			return name, nil
		}
		return c.fill(ctx, key, text, voice)
	})
	if err != nil {
		return nil, err
	}
	return &Entry{FileName: name.(string), Path: filepath.Join(c.dir, name.(string)), Cached: false}, nil
}

// lookup checks the index and verifies the file still exists on disk,
// dropping stale entries for files removed out from under the cache.
func (c *Cache) lookup(key string) (string, bool) {
	c.mu.RLock()
	name, ok := c.index[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if _, err := os.Stat(filepath.Join(c.dir, name)); err != nil {
		c.mu.Lock()
		delete(c.index, key)
		c.mu.Unlock()
		return "", false
	}
	return name, true
}

// fill performs the upstream synthesis and writes the cache file. The write
// goes through a temp file and rename so readers never observe a partial MP3.
func (c *Cache) fill(ctx context.Context, key, text, voice string) (string, error) {
	var audio []byte
	err := c.guard.Do(ctx, upstream.Transient(tts.ErrUnavailable), func(ctx context.Context) error {
		var callErr error
		audio, callErr = c.synth.Synthesize(ctx, tts.Request{Text: text, Voice: voice})
		return callErr
	})
	if err != nil {
		return "", fmt.Errorf("ttscache: synthesize: %w", err)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("ttscache: synthesize: %w: empty audio", tts.ErrUnavailable)
	}

	name := "tts_" + key + ".mp3"
	tmp, err := os.CreateTemp(c.dir, "tts_partial_*")
	if err != nil {
		return "", fmt.Errorf("ttscache: write: %w", err)
	}
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("ttscache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("ttscache: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("ttscache: write: %w", err)
	}

	c.mu.Lock()
	c.index[key] = name
	c.mu.Unlock()
	return name, nil
}
