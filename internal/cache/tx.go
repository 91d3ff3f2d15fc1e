package cache

import (
	"sort"

	"github.com/roach88/optisync/internal/ir"
)

// Tx accumulates writes for one Batch. Reads through a Tx see its own
// pending writes. A Tx is only valid inside the Batch callback.
type Tx struct {
	c        *Cache
	entities map[Key]*entityWrite
	lists    map[string]*ListCell
	order    []Key
}

type entityWrite struct {
	cell    EntityCell
	removed bool
}

func newTx(c *Cache) *Tx {
	return &Tx{
		c:        c,
		entities: make(map[Key]*entityWrite),
		lists:    make(map[string]*ListCell),
	}
}

// touch returns the pending copy of an entity cell, copying the live cell
// (or starting an empty one) on first use.
func (tx *Tx) touch(entity string, id any) *entityWrite {
	key := KeyOf(entity, id)
	if w, ok := tx.entities[key]; ok {
		if w.removed {
			w.removed = false
			w.cell = EntityCell{Entity: entity, ID: id}
		}
		return w
	}
	w := &entityWrite{cell: EntityCell{Entity: entity, ID: id}}
	if live, ok := tx.c.entities[key]; ok {
		w.cell = copyEntity(live)
	}
	tx.entities[key] = w
	tx.order = append(tx.order, key)
	return w
}

func (tx *Tx) touchList(key string) *ListCell {
	if l, ok := tx.lists[key]; ok {
		return l
	}
	l := &ListCell{Key: key}
	if live, ok := tx.c.lists[key]; ok {
		copied := copyList(live)
		l = &copied
	}
	tx.lists[key] = l
	return l
}

// Entity reads an entity cell, including this transaction's writes. It does
// not create the cell.
func (tx *Tx) Entity(entity string, id any) (EntityCell, bool) {
	key := KeyOf(entity, id)
	if w, ok := tx.entities[key]; ok {
		if w.removed {
			return EntityCell{}, false
		}
		return copyEntity(&w.cell), true
	}
	if live, ok := tx.c.entities[key]; ok {
		return copyEntity(live), true
	}
	return EntityCell{}, false
}

// SetEntity replaces the entity's data.
func (tx *Tx) SetEntity(entity string, id any, data map[string]any) {
	tx.touch(entity, id).cell.Data = ir.CloneMap(data)
}

// MergeEntity shallow-merges data onto the entity's data. An entity that is
// not loaded is left untouched and no cell is created.
func (tx *Tx) MergeEntity(entity string, id any, data map[string]any) {
	if cur, ok := tx.Entity(entity, id); !ok || cur.Data == nil {
		return
	}
	w := tx.touch(entity, id)
	for k, v := range data {
		w.cell.Data[k] = ir.Clone(v)
	}
}

// DeleteEntity sets the entity's data to nil, keeping the cell.
func (tx *Tx) DeleteEntity(entity string, id any) {
	tx.touch(entity, id).cell.Data = nil
}

// RemoveEntity evicts the cell entirely.
func (tx *Tx) RemoveEntity(entity string, id any) {
	w := tx.touch(entity, id)
	w.removed = true
}

// SetLoading sets the entity's loading flag.
func (tx *Tx) SetLoading(entity string, id any, loading bool) {
	tx.touch(entity, id).cell.Loading = loading
}

// SetError records a load error on the entity and clears its loading flag.
func (tx *Tx) SetError(entity string, id any, err error) {
	w := tx.touch(entity, id)
	w.cell.Err = err
	w.cell.Loading = false
}

// SetList replaces a list query result.
func (tx *Tx) SetList(key string, data []any) {
	l := tx.touchList(key)
	l.Data = nil
	if data != nil {
		l.Data = ir.Clone(data).([]any)
	}
}

// SetListLoading sets a list's loading flag.
func (tx *Tx) SetListLoading(key string, loading bool) {
	tx.touchList(key).Loading = loading
}

// SetListError records a load error on a list and clears its loading flag.
func (tx *Tx) SetListError(key string, err error) {
	l := tx.touchList(key)
	l.Err = err
	l.Loading = false
}

// commit applies pending writes to the live cells. Caller holds c.mu.
func (tx *Tx) commit() Change {
	var change Change
	for _, key := range tx.order {
		w := tx.entities[key]
		if w.removed {
			if _, ok := tx.c.entities[key]; !ok {
				continue
			}
			delete(tx.c.entities, key)
		} else {
			cell := w.cell
			tx.c.entities[key] = &cell
		}
		change.Entities = append(change.Entities, key)
	}
	sortKeys(change.Entities)

	for key, l := range tx.lists {
		tx.c.lists[key] = l
		change.Lists = append(change.Lists, key)
	}
	sort.Strings(change.Lists)
	return change
}
