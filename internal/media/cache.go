// Package media provides local caching of remote media files with
// URL-addressed storage.
package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dojoverse/dojosync/internal/errors"
	"github.com/dojoverse/dojosync/internal/logging"
)

// Cache downloads remote media to local disk for offline playback.
type Cache interface {
	// CacheURL ensures the media at url is available locally and returns
	// the local file path. High-priority fetches get a longer timeout.
	CacheURL(ctx context.Context, url string, highPriority bool) (string, error)
	// LocalPath returns the local path for url if already cached.
	LocalPath(url string) (string, bool)
}

// DiskCache stores media files under SHA-256 addressing of their source
// URL. The first two hash characters form a prefix directory to keep
// individual directories small.
type DiskCache struct {
	baseDir string
	client  *http.Client

	// Timeouts per priority class.
	normalTimeout time.Duration
	highTimeout   time.Duration
}

// NewDiskCache creates a DiskCache rooted at baseDir.
func NewDiskCache(baseDir string) (*DiskCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrMediaCache, "failed to create media cache directory", err)
	}

	return &DiskCache{
		baseDir:       baseDir,
		client:        &http.Client{},
		normalTimeout: 30 * time.Second,
		highTimeout:   2 * time.Minute,
	}, nil
}

// CacheURL downloads url into the cache unless already present. The file is
// written to a temp path first and renamed in, so a partial download never
// becomes visible.
func (c *DiskCache) CacheURL(ctx context.Context, url string, highPriority bool) (string, error) {
	if url == "" {
		return "", errors.New(errors.ErrInvalid, "media URL is required")
	}

	dest := c.pathFor(url)
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	timeout := c.normalTimeout
	if highPriority {
		timeout = c.highTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalid, "invalid media URL", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.ErrNetwork, "failed to fetch media", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf(errors.ErrMediaCache,
			"media fetch returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", errors.Wrap(errors.ErrMediaCache, "failed to create prefix directory", err)
	}

	tmp, err := os.CreateTemp(c.baseDir, "download-*")
	if err != nil {
		return "", errors.Wrap(errors.ErrMediaCache, "failed to create temp file", err)
	}
	defer os.Remove(tmp.Name())

	size, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", errors.Wrap(errors.ErrMediaCache, "failed to write media file", err)
	}
	if size == 0 {
		return "", errors.New(errors.ErrMediaCache, "media fetch returned an empty body")
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", errors.Wrap(errors.ErrMediaCache, "failed to move media into cache", err)
	}

	logging.Debug("Cached media file", map[string]interface{}{
		"url":  url,
		"size": size,
	})
	return dest, nil
}

// LocalPath returns the cached path for url, if present.
func (c *DiskCache) LocalPath(url string) (string, bool) {
	dest := c.pathFor(url)
	if _, err := os.Stat(dest); err != nil {
		return "", false
	}
	return dest, true
}

// Remove deletes the cached file for url, if present.
func (c *DiskCache) Remove(url string) error {
	dest := c.pathFor(url)
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrMediaCache, "failed to remove cached media", err)
	}
	// Drop the prefix directory when it empties out.
	os.Remove(filepath.Dir(dest))
	return nil
}

// Stats summarizes cache usage.
type Stats struct {
	TotalFiles int
	TotalBytes int64
}

// GetStats walks the cache and returns usage totals.
func (c *DiskCache) GetStats() (*Stats, error) {
	stats := &Stats{}

	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMediaCache, "failed to read cache directory", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) != 2 {
			continue
		}
		files, err := os.ReadDir(filepath.Join(c.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		for _, file := range files {
			if file.IsDir() {
				continue
			}
			stats.TotalFiles++
			if info, err := file.Info(); err == nil {
				stats.TotalBytes += info.Size()
			}
		}
	}

	return stats, nil
}

// Cleanup removes cached files whose source URL is not in keep.
func (c *DiskCache) Cleanup(keep map[string]bool) (removed int, err error) {
	wanted := make(map[string]bool, len(keep))
	for url := range keep {
		wanted[filepath.Base(c.pathFor(url))] = true
	}

	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		return 0, errors.Wrap(errors.ErrMediaCache, "failed to read cache directory", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) != 2 {
			continue
		}
		dirPath := filepath.Join(c.baseDir, entry.Name())
		files, _ := os.ReadDir(dirPath)
		for _, file := range files {
			if file.IsDir() || wanted[file.Name()] {
				continue
			}
			if os.Remove(filepath.Join(dirPath, file.Name())) == nil {
				removed++
			}
		}
		files, _ = os.ReadDir(dirPath)
		if len(files) == 0 {
			os.Remove(dirPath)
		}
	}

	return removed, nil
}

// pathFor maps a URL to its on-disk location, preserving the source
// extension so players can sniff the format.
func (c *DiskCache) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	hash := hex.EncodeToString(sum[:])

	ext := path.Ext(url)
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	return filepath.Join(c.baseDir, hash[:2], hash+ext)
}
