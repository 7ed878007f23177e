package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

var ErrCacheMiss = errors.New("cache miss")

const checksumSuffix = ".xxh3"

// Key locates one cached stage result: a stage directory and a file name.
type Key struct {
	Dir  string
	File string
}

func (k Key) String() string {
	return k.Dir + "/" + k.File
}

var keyReplacer = strings.NewReplacer("@", "_at_", "/", "_", "\\", "_", "..", "_", ":", "_")

// SanitizeKeyPart makes a target safe to use inside a cache file name.
func SanitizeKeyPart(s string) string {
	return keyReplacer.Replace(strings.TrimSpace(s))
}

// StageCache persists each stage's finding list as a JSON array under Dir.
// A disabled cache never hits and never writes.
type StageCache struct {
	Dir      string
	Disabled bool
	logger   *logrus.Logger
	mu       sync.Mutex

	hits   int64
	misses int64
	writes int64
}

func NewStageCache(dir string, enabled bool, logger *logrus.Logger) *StageCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &StageCache{Dir: dir, Disabled: !enabled, logger: logger}
}

func (c *StageCache) Path(k Key) string {
	return filepath.Join(c.Dir, k.Dir, k.File)
}

// Load returns the cached findings for k or ErrCacheMiss. Unreadable,
// malformed or checksum-mismatched entries are misses.
func (c *StageCache) Load(k Key) ([]models.Finding, error) {
	if c == nil || c.Disabled {
		return nil, ErrCacheMiss
	}
	path := c.Path(k)
	data, err := os.ReadFile(path)
	if err != nil {
		c.count(&c.misses)
		if !os.IsNotExist(err) {
			c.logger.Warnf("cache entry %s unreadable: %v", k, err)
		}
		return nil, ErrCacheMiss
	}

	if sum, err := os.ReadFile(path + checksumSuffix); err == nil {
		if strings.TrimSpace(string(sum)) != utils.ContentHash(data) {
			c.logger.Warnf("cache entry %s failed its checksum, ignoring", k)
			c.count(&c.misses)
			return nil, ErrCacheMiss
		}
	}

	var findings []models.Finding
	if err := json.Unmarshal(data, &findings); err != nil {
		c.logger.Warnf("cache entry %s is malformed, ignoring: %v", k, err)
		c.count(&c.misses)
		return nil, ErrCacheMiss
	}
	if findings == nil {
		findings = []models.Finding{}
	}
	c.count(&c.hits)
	return findings, nil
}

// Store overwrites the entry for k. An empty list is written as [].
func (c *StageCache) Store(k Key, findings []models.Finding) error {
	if c == nil || c.Disabled {
		return nil
	}
	if findings == nil {
		findings = []models.Finding{}
	}
	data, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", k, err)
	}
	path := c.Path(k)
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("write cache entry %s: %w", k, err)
	}
	if err := writeAtomic(path+checksumSuffix, []byte(utils.ContentHash(data))); err != nil {
		c.logger.Warnf("cache checksum for %s not written: %v", k, err)
	}
	c.count(&c.writes)
	return nil
}

func (c *StageCache) count(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

func (c *StageCache) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"dir":     c.Dir,
		"enabled": !c.Disabled,
		"hits":    c.hits,
		"misses":  c.misses,
		"writes":  c.writes,
	}
}
