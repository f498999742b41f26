// Package schema resolves ordered column lists for target tables. Columns
// come from a JSON file cache first and, when allowed, from a `spark-sql -e
// DESCRIBE` call whose result is written back to the cache. The resolver is
// a collaborator of the hive UPDATE recomposition; a miss is reported as an
// error and surfaces as a statement-level refusal, never as a guess.
package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Mode selects where columns may come from.
type Mode string

const (
	// ModeAuto tries the cache first, then spark-sql.
	ModeAuto Mode = "auto"
	// ModeCache only consults the cache file.
	ModeCache Mode = "cache"
	// ModeSparkSQL only runs spark-sql DESCRIBE.
	ModeSparkSQL Mode = "spark-sql"
)

// Config configures a Resolver.
type Config struct {
	// Mode selects the lookup strategy.
	Mode Mode
	// CachePath is the JSON cache file (table -> ordered columns).
	CachePath string
	// SparkSQLBin is the spark-sql binary; defaults to "spark-sql".
	SparkSQLBin string
	// Logger is optional; nil discards.
	Logger *slog.Logger
}

// Resolver looks up table columns.
type Resolver struct {
	mode      Mode
	cachePath string
	bin       string
	logger    *slog.Logger

	mu    sync.Mutex // guards cache and the cache file; lookups run from parallel workers
	cache map[string][]string
}

// New creates a resolver, loading the cache file if it exists. A missing or
// unreadable cache is treated as empty.
func New(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeAuto
	}
	bin := cfg.SparkSQLBin
	if bin == "" {
		bin = "spark-sql"
	}
	r := &Resolver{
		mode:      mode,
		cachePath: cfg.CachePath,
		bin:       bin,
		logger:    logger,
		cache:     map[string][]string{},
	}
	r.loadCache()
	return r
}

// TableColumns returns the ordered column names for a table. It is safe for
// concurrent use; the rule engine calls it from
// parallel chunk workers. Lookups for uncached tables serialize on the
// resolver so a table is described at most once.
func (r *Resolver) TableColumns(table string) ([]string, error) {
	key := strings.TrimSpace(table)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode == ModeAuto || r.mode == ModeCache {
		if cols, ok := r.cache[key]; ok && len(cols) > 0 {
			return cols, nil
		}
		if r.mode == ModeCache {
			return nil, fmt.Errorf("schema for %s not in cache", key)
		}
	}

	cols, err := r.describe(key)
	if err != nil {
		return nil, fmt.Errorf("failed to describe %s: %w", key, err)
	}
	r.cache[key] = cols
	r.saveCache()
	return cols, nil
}

// describe runs `spark-sql -S -e "DESCRIBE table"` and parses the column
// section up to the first blank or section-header line.
func (r *Resolver) describe(table string) ([]string, error) {
	out, err := exec.Command(r.bin, "-S", "-e", "DESCRIBE "+table).Output()
	if err != nil {
		return nil, err
	}
	var cols []string
	for _, line := range strings.Split(string(out), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, "#") {
			break
		}
		fields := strings.Split(s, "\t")
		if len(fields) == 0 || fields[0] == "" {
			fields = strings.Fields(s)
		}
		if len(fields) == 0 {
			continue
		}
		col := strings.TrimSpace(fields[0])
		switch strings.ToLower(col) {
		case "col_name", "partition":
			continue
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("DESCRIBE returned no columns")
	}
	return cols, nil
}

func (r *Resolver) loadCache() {
	if r.cachePath == "" {
		return
	}
	data, err := os.ReadFile(r.cachePath)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &r.cache); err != nil {
		r.logger.Warn("ignoring unreadable schema cache", "path", r.cachePath, "error", err)
		r.cache = map[string][]string{}
	}
}

func (r *Resolver) saveCache() {
	if r.cachePath == "" {
		return
	}
	data, err := json.MarshalIndent(r.cache, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(r.cachePath, data, 0o644); err != nil {
		r.logger.Warn("failed to write schema cache", "path", r.cachePath, "error", err)
	}
}
