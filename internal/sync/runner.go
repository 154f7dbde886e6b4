// Package sync imports markdown notes from watched directories into the
// memory store. A run is guarded by the cross-process sync lock so that a
// scheduled run, a watcher-triggered run, and a CLI `hoard sync run` never
// overlap. All writes go through the memory service, so an in-server run
// rides the coordinator and a CLI run takes the scoped write path.
package sync

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hoardlabs/hoard/internal/lock"
	"github.com/hoardlabs/hoard/internal/memory"
	"github.com/hoardlabs/hoard/internal/store"
)

// syncAgentID is the agent recorded as owner of imported memories.
const syncAgentID = "sync"

// NoteMeta holds parsed YAML frontmatter from a synced note.
type NoteMeta struct {
	Slot        string   `yaml:"slot"`
	ScopeType   string   `yaml:"scope_type"`
	ScopeID     string   `yaml:"scope_id"`
	Tags        []string `yaml:"tags"`
	Sensitivity string   `yaml:"sensitivity"`
	TTLDays     *int     `yaml:"ttl_days"`
}

type note struct {
	meta    NoteMeta
	content string
	path    string
}

// Result reports what a sync run did.
type Result struct {
	Found     int  `json:"found"`
	Stored    int  `json:"stored"`
	Unchanged int  `json:"unchanged"`
	Errors    int  `json:"errors"`
	Skipped   bool `json:"skipped"`
}

// Runner executes one sync pass over the configured watch paths.
type Runner struct {
	svc    *memory.Service
	lock   *lock.SyncLock
	paths  []string
	logger *slog.Logger
}

func NewRunner(svc *memory.Service, dbPath string, paths []string, logger *slog.Logger) *Runner {
	return &Runner{
		svc:    svc,
		lock:   lock.NewSyncLock(dbPath),
		paths:  paths,
		logger: logger,
	}
}

// Run scans the watch paths and imports every note whose content differs
// from what is already live in its slot. When another sync holds the lock
// the run is skipped, not queued.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	ok, err := r.lock.TryAcquire()
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		r.logger.Info("sync already in flight, skipping")
		return &Result{Skipped: true}, nil
	}
	defer r.lock.Release()

	notes, err := scanNotes(r.paths)
	if err != nil {
		return nil, fmt.Errorf("scan watch paths: %w", err)
	}

	result := &Result{Found: len(notes)}
	for _, n := range notes {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		stored, err := r.importNote(ctx, n)
		if err != nil {
			r.logger.Error("import note failed", "path", n.path, "error", err)
			result.Errors++
			continue
		}
		if stored {
			result.Stored++
		} else {
			result.Unchanged++
		}
	}

	r.logger.Info("sync complete",
		"found", result.Found,
		"stored", result.Stored,
		"unchanged", result.Unchanged,
		"errors", result.Errors,
	)
	return result, nil
}

func (r *Runner) importNote(ctx context.Context, n note) (bool, error) {
	scopeType := n.meta.ScopeType
	if scopeType == "" {
		scopeType = "user"
	}
	var scopeID *string
	if scopeType != "user" && n.meta.ScopeID != "" {
		scopeID = &n.meta.ScopeID
	}

	slot := n.meta.Slot
	if slot == "" {
		slot = memory.SlotForKey(noteKey(n.path))
	}

	// Re-importing an unchanged note would just churn the supersede chain.
	live, err := r.svc.Get(slot, scopeType, scopeID)
	if err != nil {
		return false, err
	}
	hash := store.ContentHash(n.content)
	for _, m := range live {
		if m.AgentID == syncAgentID && m.ContentHash == hash {
			return false, nil
		}
	}

	_, err = r.svc.Put(ctx, memory.PutParams{
		Slot:        slot,
		ScopeType:   scopeType,
		ScopeID:     scopeID,
		AgentID:     syncAgentID,
		Content:     n.content,
		Tags:        n.meta.Tags,
		Sensitivity: n.meta.Sensitivity,
		TTLDays:     n.meta.TTLDays,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanNotes walks each path collecting .md files. Paths that do not exist
// are skipped so a freshly configured watch dir is not an error.
func scanNotes(paths []string) ([]note, error) {
	var notes []note
	for _, root := range paths {
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".md") {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read note %s: %w", path, err)
			}
			meta, content := parseFrontmatter(string(data))
			content = strings.TrimSpace(content)
			if content == "" {
				return nil
			}
			notes = append(notes, note{meta: meta, content: content, path: path})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	return notes, nil
}

// parseFrontmatter splits an optional YAML frontmatter block (delimited by
// --- markers) from the note body. A note without frontmatter, or with
// frontmatter that fails to parse, is imported whole under a derived slot.
func parseFrontmatter(raw string) (NoteMeta, string) {
	var meta NoteMeta
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "---") {
		return meta, raw
	}
	rest := trimmed[3:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return meta, raw
	}
	if err := yaml.Unmarshal([]byte(rest[:idx]), &meta); err != nil {
		return NoteMeta{}, raw
	}
	body := rest[idx+4:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}
	return meta, body
}

func noteKey(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
