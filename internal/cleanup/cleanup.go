// Package cleanup removes stale files from a directory on a cron schedule.
package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sunqi/platform-mcp/internal/common"
)

// Cleaner deletes regular files older than a maximum age from one directory.
// Subdirectories are left untouched.
type Cleaner struct {
	cron   *cron.Cron
	dir    string
	maxAge time.Duration
	logger *common.Logger
	now    func() time.Time
}

// New creates a cleaner for dir removing files older than maxAge.
func New(dir string, maxAge time.Duration, logger *common.Logger) *Cleaner {
	return &Cleaner{
		cron:   cron.New(),
		dir:    dir,
		maxAge: maxAge,
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules RunOnce on the given cron spec ("@every 1h" or standard
// five-field syntax) and starts the scheduler.
func (c *Cleaner) Start(schedule string) error {
	if _, err := c.cron.AddFunc(schedule, func() { c.RunOnce() }); err != nil {
		return err
	}
	c.cron.Start()
	c.logger.Info().Str("dir", c.dir).Str("schedule", schedule).Msg("file cleanup scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (c *Cleaner) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs one cleanup pass and returns the number of files removed.
func (c *Cleaner) RunOnce() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn().Str("dir", c.dir).Str("error", err.Error()).Msg("cleanup scan failed")
		return 0
	}

	removed := 0
	cutoff := c.now().Add(-c.maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := os.Remove(path); err != nil {
			c.logger.Warn().Str("file", path).Str("error", err.Error()).Msg("failed to remove stale file")
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info().Str("dir", c.dir).Int("removed", removed).Msg("cleanup pass complete")
	}
	return removed
}
