// Package lookup maps waterbody and gear display labels to jurisdiction codes.
//
// Lookups are pure label -> code functions over an in-memory table. A label
// with no match yields "" rather than an error; callers forward the absent code.
package lookup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"harvestreport/internal/logging"
)

// Tables is the on-disk shape of a code table file.
type Tables struct {
	Waterbodies map[string]string `yaml:"waterbodies"`
	Gear        map[string]string `yaml:"gear"`
}

// Table is a concurrency-safe label -> code table.
type Table struct {
	mu          sync.RWMutex
	waterbodies map[string]string
	gear        map[string]string
}

// New builds a table from label -> code maps.
func New(waterbodies, gear map[string]string) *Table {
	t := &Table{}
	t.Replace(Tables{Waterbodies: waterbodies, Gear: gear})
	return t
}

// Replace swaps both tables atomically.
func (t *Table) Replace(tables Tables) {
	w := index(tables.Waterbodies)
	g := index(tables.Gear)
	t.mu.Lock()
	t.waterbodies, t.gear = w, g
	t.mu.Unlock()
}

// WaterbodyCode returns the code for a waterbody label, or "".
func (t *Table) WaterbodyCode(label string) string {
	return t.find(func() map[string]string { return t.waterbodies }, label, "waterbody")
}

// GearCode returns the code for a gear label, or "".
func (t *Table) GearCode(label string) string {
	return t.find(func() map[string]string { return t.gear }, label, "gear")
}

// Sizes reports how many labels each table holds.
func (t *Table) Sizes() (waterbodies, gear int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.waterbodies), len(t.gear)
}

func (t *Table) find(pick func() map[string]string, label, kind string) string {
	key := normalize(label)
	if key == "" {
		return ""
	}
	t.mu.RLock()
	code, ok := pick()[key]
	t.mu.RUnlock()
	if !ok {
		logging.Get(logging.CategoryLookup).Debug("no %s code for label %q", kind, label)
	}
	return code
}

// LoadFile reads a YAML code table file.
func LoadFile(path string) (Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("failed to read code tables: %w", err)
	}
	var tables Tables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return Tables{}, fmt.Errorf("failed to parse code tables: %w", err)
	}
	return tables, nil
}

// Watch reloads the table whenever path is written, until ctx is done.
// The parent directory is watched so editors that replace files atomically
// are picked up too. The returned channel is closed once the watcher has
// stopped.
func (t *Table) Watch(ctx context.Context, path string) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	log := logging.Get(logging.CategoryLookup)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				tables, err := LoadFile(abs)
				if err != nil {
					log.Warn("code table reload failed, keeping previous tables: %v", err)
					continue
				}
				t.Replace(tables)
				w, g := t.Sizes()
				log.Info("code tables reloaded from %s (%d waterbodies, %d gear)", abs, w, g)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("code table watcher error: %v", err)
			}
		}
	}()
	return done, nil
}

func index(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for label, code := range m {
		if k := normalize(label); k != "" {
			out[k] = strings.TrimSpace(code)
		}
	}
	return out
}

func normalize(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}
