package config

import (
	"os"
	"time"
)

// Watcher tracks one configuration file's mtime and last-applied
// version, and decides when a reload should be applied: the file's
// mtime must have increased since the last check, and its declared
// version must be strictly greater than the last one loaded. A parse
// failure or a version that did not advance leaves the Watcher's
// current Config untouched; per the error-handling contract, these are
// never treated as fatal.
type Watcher struct {
	path       string
	lastMtime  time.Time
	lastVer    int
	current    *Config
}

// NewWatcher loads path once and returns a Watcher primed with the
// result.
func NewWatcher(path string) (*Watcher, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &Watcher{path: path, lastMtime: info.ModTime(), lastVer: c.Version, current: c}, nil
}

// Current returns the most recently applied Config.
func (w *Watcher) Current() *Config { return w.current }

// CheckReload stats the configuration file and, if its mtime has
// increased, attempts to reload it. A reload is applied only if the
// new file parses successfully and its version is strictly greater
// than the currently applied one; otherwise CheckReload logs nothing
// itself (the caller decides how) and returns (nil, false, err) on a
// parse failure so the caller can log-and-continue, or (nil, false,
// nil) when there is simply nothing new to apply.
func (w *Watcher) CheckReload() (*Config, bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, false, err
	}
	if !info.ModTime().After(w.lastMtime) {
		return nil, false, nil
	}
	w.lastMtime = info.ModTime()
	c, err := Load(w.path)
	if err != nil {
		return nil, false, err
	}
	if c.Version <= w.lastVer {
		// Configuration version regression or no-op: ignore silently.
		return nil, false, nil
	}
	w.lastVer = c.Version
	w.current = c
	return c, true, nil
}
