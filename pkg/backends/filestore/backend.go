// Package filestore provides the file-oriented storage backend for lexstore.
//
// Each entity lives in one line-delimited JSON file under the data
// directory. The backend keeps a committed in-memory copy of every file;
// sessions work on copies and write whole files back on commit by
// renaming freshly written temporaries over the originals.
//
// There is no cross-process locking. Only one writer may use a data
// directory at a time.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/leapstack-labs/lexstore/pkg/backend"
	"github.com/leapstack-labs/lexstore/pkg/core"
	"golang.org/x/sync/errgroup"
)

// Name is the engine name the backend registers under.
const Name = core.EngineFile

// DefaultDataDir is used when the config names no data directory.
const DefaultDataDir = "data"

// ErrUniqueViolation is returned when a write would duplicate a value of a
// unique index.
var ErrUniqueViolation = errors.New("unique constraint violated")

// Params holds file-backend configuration.
// Parsed from core.BackendConfig.Params using mapstructure.
type Params struct {
	// Watch drops cached collections when their files change on disk.
	Watch bool `mapstructure:"watch"`
}

// DecodeParams decodes raw backend params.
func DecodeParams(raw map[string]any) (Params, error) {
	var p Params
	if len(raw) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(raw); err != nil {
		return p, fmt.Errorf("invalid file params: %w", err)
	}
	return p, nil
}

// collection is the in-memory content of one entity file.
type collection struct {
	rows   map[int64]core.Row
	nextID int64
}

func newCollection(rows []core.Row) *collection {
	c := &collection{rows: make(map[int64]core.Row, len(rows)), nextID: 1}
	for _, r := range rows {
		id := r.Key()
		c.rows[id] = r
		if id >= c.nextID {
			c.nextID = id + 1
		}
	}
	return c
}

// clone copies the collection; rows are copied too so writes to a clone
// never reach the original.
func (c *collection) clone() *collection {
	out := &collection{rows: make(map[int64]core.Row, len(c.rows)), nextID: c.nextID}
	for id, r := range c.rows {
		out.rows[id] = r.Clone()
	}
	return out
}

// checkUnique fails when row duplicates another row on a unique index.
// Index values containing NULL never conflict.
func (c *collection) checkUnique(tbl *core.Table, row core.Row) error {
	id := row.Key()
	for _, idx := range tbl.Indexes {
		if !idx.Unique {
			continue
		}
	next:
		for otherID, other := range c.rows {
			if otherID == id {
				continue
			}
			for _, col := range idx.Columns {
				a, b := row[col], other[col]
				if a == nil || b == nil {
					continue next
				}
				if cmp, err := core.Compare(a, b); err != nil || cmp != 0 {
					continue next
				}
			}
			return fmt.Errorf("%s: %w: %s", tbl.Entity, ErrUniqueViolation, idx.Name)
		}
	}
	return nil
}

// Backend implements backend.Backend over a directory of JSONL files.
type Backend struct {
	logger *slog.Logger

	mu      sync.Mutex
	dir     string
	params  Params
	cache   map[core.Entity]*collection
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates an unopened file backend.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{logger: logger}
}

// Name returns the engine name.
func (b *Backend) Name() string {
	return Name
}

// Dir returns the data directory.
func (b *Backend) Dir() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dir
}

// Open creates the data directory if needed and loads every entity file,
// failing on malformed content.
func (b *Backend) Open(_ context.Context, cfg core.BackendConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cache != nil {
		return nil
	}

	params, err := DecodeParams(cfg.Params)
	if err != nil {
		return err
	}

	dir := cfg.DataDir
	if dir == "" {
		dir = DefaultDataDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create data directory: %w", core.ErrInitialization, err)
	}

	cache := make(map[core.Entity]*collection)
	for _, tbl := range core.Tables() {
		rows, err := loadFile(dir, tbl)
		if err != nil {
			return fmt.Errorf("%w: load %s: %w", core.ErrInitialization, tbl.Entity, err)
		}
		cache[tbl.Entity] = newCollection(rows)
	}

	b.dir = dir
	b.params = params
	b.cache = cache
	b.logger.Debug("opened data directory", slog.String("dir", dir), slog.Bool("watch", params.Watch))

	if params.Watch {
		if err := b.startWatch(); err != nil {
			b.logger.Warn("file watching disabled", slog.String("error", err.Error()))
		}
	}
	return nil
}

// snapshot returns a private copy of the committed collection of e,
// reloading it from disk when it was invalidated.
func (b *Backend) snapshot(e core.Entity) (*collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cache == nil {
		return nil, fmt.Errorf("file backend is not open")
	}
	c, ok := b.cache[e]
	if !ok {
		tbl, err := core.TableFor(e)
		if err != nil {
			return nil, err
		}
		rows, err := loadFile(b.dir, tbl)
		if err != nil {
			return nil, err
		}
		c = newCollection(rows)
		b.cache[e] = c
	}
	return c.clone(), nil
}

// invalidate drops the cached collection of e.
func (b *Backend) invalidate(e core.Entity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cache != nil {
		delete(b.cache, e)
	}
}

// commit writes every collection in changed to its file and installs them
// as the committed state; the caller must not touch them afterwards.
// Temporary files are written concurrently and renamed only once all of
// them succeeded.
func (b *Backend) commit(changed map[core.Entity]*collection) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cache == nil {
		return fmt.Errorf("file backend is not open")
	}

	entities := make([]core.Entity, 0, len(changed))
	for e := range changed {
		entities = append(entities, e)
	}
	temps := make([]string, len(entities))

	var g errgroup.Group
	for i, e := range entities {
		g.Go(func() error {
			tmp, err := writeTemp(b.dir, e, changed[e].rows)
			if err != nil {
				return fmt.Errorf("write %s: %w", e, err)
			}
			temps[i] = tmp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, tmp := range temps {
			if tmp != "" {
				_ = os.Remove(tmp)
			}
		}
		return err
	}

	for i, e := range entities {
		if err := os.Rename(temps[i], filepath.Join(b.dir, fileName(e))); err != nil {
			for _, tmp := range temps[i:] {
				_ = os.Remove(tmp)
			}
			// Files renamed so far are on disk; reload everything next time.
			clear(b.cache)
			return fmt.Errorf("replace %s: %w", fileName(e), err)
		}
		b.cache[e] = changed[e]
	}
	return nil
}

// NewSession starts a unit of work.
func (b *Backend) NewSession(_ context.Context) (core.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cache == nil {
		return nil, fmt.Errorf("file backend is not open")
	}
	s := &Session{
		id:   backend.NewSessionID(),
		b:    b,
		work: make(map[core.Entity]*collection),
	}
	s.logger = b.logger.With(slog.String("session", s.id))
	return s, nil
}

// Close stops the watcher and drops the cache.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var err error
	if b.watcher != nil {
		close(b.done)
		err = b.watcher.Close()
		b.watcher = nil
	}
	b.cache = nil
	return err
}

var _ backend.Backend = (*Backend)(nil)
