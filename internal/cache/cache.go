package cache

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/optisync/internal/ir"
)

// DefaultIDField is the data field that carries an entity's identifier.
const DefaultIDField = "id"

// Key identifies an entity cell. ID is the identifier in string form.
type Key struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
}

func (k Key) String() string { return k.Entity + ":" + k.ID }

// EntityCell is the cached state of one entity. Data is nil while the
// entity is not loaded or after a delete.
type EntityCell struct {
	Entity   string         `json:"entity"`
	ID       any            `json:"id"`
	Data     map[string]any `json:"data"`
	Loading  bool           `json:"loading,omitempty"`
	Err      error          `json:"-"`
	Stale    bool           `json:"stale,omitempty"`
	RefCount int            `json:"refCount"`
}

// ListCell is the cached result of one list query.
type ListCell struct {
	Key      string `json:"key"`
	Data     []any  `json:"data"`
	Loading  bool   `json:"loading,omitempty"`
	Err      error  `json:"-"`
	Stale    bool   `json:"stale,omitempty"`
	RefCount int    `json:"refCount"`
}

// Change lists the cells written by one transaction, sorted.
type Change struct {
	Entities []Key    `json:"entities,omitempty"`
	Lists    []string `json:"lists,omitempty"`
}

// Empty reports whether the change touched nothing.
func (c Change) Empty() bool {
	return len(c.Entities) == 0 && len(c.Lists) == 0
}

// TxIDGenerator mints optimistic transaction ids.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDs.
type TxIDGenerator interface {
	Generate() string
}

// Clock stamps transaction records.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Cache is the reactive entity and list store.
//
// Thread-safety: all methods are safe for concurrent use. Subscribers are
// called synchronously after the transaction's lock is released.
type Cache struct {
	mu       sync.Mutex
	entities map[Key]*EntityCell
	lists    map[string]*ListCell
	pending  map[string]*Transaction
	txSeq    int64

	subMu  sync.Mutex
	subs   map[int]func(Change)
	nextID int

	optimistic bool
	idField    string
	txIDs      TxIDGenerator
	clock      Clock
	logger     *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithOptimistic enables or disables optimistic updates. When disabled,
// ApplyOptimistic does nothing and returns "".
// Default: enabled.
func WithOptimistic(enabled bool) Option {
	return func(c *Cache) {
		c.optimistic = enabled
	}
}

// WithIDField sets the data field holding entity identifiers.
// Default: "id".
func WithIDField(field string) Option {
	return func(c *Cache) {
		c.idField = field
	}
}

// WithTxIDGenerator sets the transaction id generator.
// Default: UUIDv7Generator.
func WithTxIDGenerator(g TxIDGenerator) Option {
	return func(c *Cache) {
		c.txIDs = g
	}
}

// WithClock sets the clock used to stamp transactions.
func WithClock(clock Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entities:   make(map[Key]*EntityCell),
		lists:      make(map[string]*ListCell),
		pending:    make(map[string]*Transaction),
		subs:       make(map[int]func(Change)),
		optimistic: true,
		idField:    DefaultIDField,
		txIDs:      UUIDv7Generator{},
		clock:      systemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// IDField returns the data field holding entity identifiers.
func (c *Cache) IDField() string { return c.idField }

// KeyOf returns the cell key for an entity identifier. String ids are used
// as is; other ids use their canonical JSON form.
func KeyOf(entity string, id any) Key {
	if s, ok := id.(string); ok {
		return Key{Entity: entity, ID: s}
	}
	b, err := ir.MarshalCanonical(id)
	if err != nil {
		return Key{Entity: entity, ID: fmt.Sprint(id)}
	}
	return Key{Entity: entity, ID: string(b)}
}

// Subscribe registers fn to receive one Change per transaction that wrote
// at least one cell. The returned function unsubscribes.
func (c *Cache) Subscribe(fn func(Change)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Cache) notify(change Change) {
	if change.Empty() {
		return
	}
	c.subMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), len(ids))
	for i, id := range ids {
		fns[i] = c.subs[id]
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

// Batch runs fn as one transaction. Writes made through tx are applied
// together when fn returns and produce a single Change. If fn panics,
// nothing is applied.
//
// fn must not call other Cache methods.
func (c *Cache) Batch(fn func(tx *Tx)) {
	c.notify(c.update(fn))
}

func (c *Cache) update(fn func(tx *Tx)) Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx := newTx(c)
	fn(tx)
	return tx.commit()
}

// Entity returns a copy of the entity cell, creating an empty cell on first
// read.
func (c *Cache) Entity(entity string, id any) EntityCell {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyEntity(c.entityCell(entity, id))
}

// Peek returns a copy of the entity cell without creating it.
func (c *Cache) Peek(entity string, id any) (EntityCell, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell, ok := c.entities[KeyOf(entity, id)]
	if !ok {
		return EntityCell{}, false
	}
	return copyEntity(cell), true
}

// List returns a copy of the list cell, creating an empty cell on first read.
func (c *Cache) List(key string) ListCell {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyList(c.listCell(key))
}

// SetEntity replaces the entity's data.
func (c *Cache) SetEntity(entity string, id any, data map[string]any) {
	c.Batch(func(tx *Tx) { tx.SetEntity(entity, id, data) })
}

// MergeEntity shallow-merges data onto the entity if it is loaded.
func (c *Cache) MergeEntity(entity string, id any, data map[string]any) {
	c.Batch(func(tx *Tx) { tx.MergeEntity(entity, id, data) })
}

// DeleteEntity clears the entity's data, keeping the cell and its metadata.
func (c *Cache) DeleteEntity(entity string, id any) {
	c.Batch(func(tx *Tx) { tx.DeleteEntity(entity, id) })
}

// SetLoading sets the entity's loading flag.
func (c *Cache) SetLoading(entity string, id any, loading bool) {
	c.Batch(func(tx *Tx) { tx.SetLoading(entity, id, loading) })
}

// SetError records a load error on the entity.
func (c *Cache) SetError(entity string, id any, err error) {
	c.Batch(func(tx *Tx) { tx.SetError(entity, id, err) })
}

// SetList replaces a list query result.
func (c *Cache) SetList(key string, data []any) {
	c.Batch(func(tx *Tx) { tx.SetList(key, data) })
}

// Snapshot is a point-in-time copy of every cell, sorted by key.
type Snapshot struct {
	Entities []EntityCell `json:"entities"`
	Lists    []ListCell   `json:"lists"`
}

// Snapshot copies all cells.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, len(c.entities))
	for k := range c.entities {
		keys = append(keys, k)
	}
	sortKeys(keys)

	snap := Snapshot{Entities: make([]EntityCell, 0, len(keys)), Lists: make([]ListCell, 0, len(c.lists))}
	for _, k := range keys {
		snap.Entities = append(snap.Entities, copyEntity(c.entities[k]))
	}
	listKeys := make([]string, 0, len(c.lists))
	for k := range c.lists {
		listKeys = append(listKeys, k)
	}
	sort.Strings(listKeys)
	for _, k := range listKeys {
		snap.Lists = append(snap.Lists, copyList(c.lists[k]))
	}
	return snap
}

// entityCell returns the live cell, creating it. Caller holds c.mu.
func (c *Cache) entityCell(entity string, id any) *EntityCell {
	key := KeyOf(entity, id)
	cell, ok := c.entities[key]
	if !ok {
		cell = &EntityCell{Entity: entity, ID: id}
		c.entities[key] = cell
	}
	return cell
}

// listCell returns the live list cell, creating it. Caller holds c.mu.
func (c *Cache) listCell(key string) *ListCell {
	cell, ok := c.lists[key]
	if !ok {
		cell = &ListCell{Key: key}
		c.lists[key] = cell
	}
	return cell
}

func copyEntity(cell *EntityCell) EntityCell {
	out := *cell
	out.Data = ir.CloneMap(cell.Data)
	return out
}

func copyList(cell *ListCell) ListCell {
	out := *cell
	if cell.Data != nil {
		out.Data = ir.Clone(cell.Data).([]any)
	}
	return out
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Entity != keys[j].Entity {
			return keys[i].Entity < keys[j].Entity
		}
		return keys[i].ID < keys[j].ID
	})
}
