package audio

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/logger"
)

// Loader decodes recordings referenced by events and keeps them cached for a
// while; training loops revisit the same bubbles every iteration.
type Loader struct {
	dir   string
	cache *cache.Cache
	log   logger.Logger
}

// NewLoader resolves relative paths against dir. A zero ttl disables
// expiry.
func NewLoader(dir string, ttl time.Duration) *Loader {
	expiration := ttl
	cleanup := 2 * ttl
	if ttl <= 0 {
		expiration = cache.NoExpiration
		cleanup = 0
	}
	return &Loader{
		dir:   dir,
		cache: cache.New(expiration, cleanup),
		log:   logger.Global().Module("audio"),
	}
}

func (l *Loader) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || l.dir == "" {
		return path
	}
	return filepath.Join(l.dir, path)
}

// Load returns the decoded recording at path. Empty paths and missing files
// wrap events.ErrNoData so converters skip the event.
func (l *Loader) Load(path string) (*Recording, error) {
	full := l.resolve(path)
	if full == "" {
		return nil, events.ErrNoData
	}
	if v, ok := l.cache.Get(full); ok {
		return v.(*Recording), nil
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.New(fmt.Errorf("%w: %s", events.ErrNoData, full)).
				Component("audio").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, errors.FileError(err, full)
	}
	defer f.Close()

	start := time.Now()
	rec, err := Decode(f)
	if err != nil {
		return nil, errors.New(fmt.Errorf("decoding %s: %w", full, err)).
			Component("audio").
			Category(errors.CategoryAudio).
			Build()
	}
	l.log.Trace("decoded recording",
		logger.String("path", full),
		logger.Int("channels", len(rec.Channels)),
		logger.Int("samples", rec.Len()),
		logger.Duration("elapsed", time.Since(start)))

	l.cache.Set(full, rec, cache.DefaultExpiration)
	return rec, nil
}

// Cached returns the number of recordings held in the cache.
func (l *Loader) Cached() int { return l.cache.ItemCount() }

// Flush empties the cache.
func (l *Loader) Flush() { l.cache.Flush() }
