package cache

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/optisync/internal/ir"
)

// UUIDv7Generator generates time-sortable UUIDv7 transaction ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Transaction is the record of one applied optimistic write. It lives from
// ApplyOptimistic until the matching confirm or rollback.
type Transaction struct {
	ID        string         `json:"id"`
	Entity    string         `json:"entity"`
	EntityID  any            `json:"entityId"`
	Op        ir.OpKind      `json:"op"`
	Before    map[string]any `json:"before"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`

	existed bool
	seq     int64
}

// ApplyOptimistic writes data to the cache ahead of server confirmation and
// returns a transaction id for ConfirmOptimistic or RollbackOptimistic.
//
//   - create stores data as the entity's data
//   - update shallow-merges data if the entity is loaded
//   - delete clears the entity's data, keeping the cell
//
// data must carry the identifier field. ApplyOptimistic returns "" without
// writing anything when optimism is disabled or the identifier is missing.
func (c *Cache) ApplyOptimistic(entity string, op ir.OpKind, data map[string]any) string {
	if !c.optimistic {
		return ""
	}
	id, ok := data[c.idField]
	if !ok || ir.IsNullish(id) {
		c.logger.Warn("optimistic write skipped: missing identifier",
			"entity", entity,
			"op", op,
			"id_field", c.idField,
		)
		return ""
	}

	txID := c.txIDs.Generate()
	change := c.update(func(tx *Tx) {
		before, existed := tx.Entity(entity, id)

		switch op {
		case ir.OpCreate:
			tx.SetEntity(entity, id, data)
		case ir.OpUpdate:
			tx.MergeEntity(entity, id, data)
		case ir.OpDelete:
			tx.DeleteEntity(entity, id)
		}

		c.txSeq++
		c.pending[txID] = &Transaction{
			ID:        txID,
			Entity:    entity,
			EntityID:  id,
			Op:        op,
			Before:    before.Data,
			Payload:   ir.CloneMap(data),
			CreatedAt: c.clock.Now(),
			existed:   existed,
			seq:       c.txSeq,
		}
	})
	c.notify(change)

	c.logger.Debug("optimistic write applied",
		"tx", txID,
		"entity", entity,
		"id", id,
		"op", op,
	)
	return txID
}

// ConfirmOptimistic settles a transaction. If serverData is non-nil and the
// transaction was not a delete, the entity's data is replaced by serverData.
// Unknown ids are ignored.
func (c *Cache) ConfirmOptimistic(txID string, serverData map[string]any) {
	var found bool
	change := c.update(func(tx *Tx) {
		rec, ok := c.pending[txID]
		if !ok {
			return
		}
		found = true
		delete(c.pending, txID)
		if serverData != nil && rec.Op != ir.OpDelete {
			tx.SetEntity(rec.Entity, rec.EntityID, serverData)
		}
	})
	c.notify(change)

	if found {
		c.logger.Debug("optimistic write confirmed", "tx", txID, "server_data", serverData != nil)
	}
}

// RollbackOptimistic undoes a transaction. A create removes the cell; an
// update or delete restores the data captured at apply time. A cell that did
// not exist before the transaction is removed. Unknown ids are ignored.
func (c *Cache) RollbackOptimistic(txID string) {
	var rec *Transaction
	change := c.update(func(tx *Tx) {
		r, ok := c.pending[txID]
		if !ok {
			return
		}
		rec = r
		delete(c.pending, txID)

		if rec.Op == ir.OpCreate || !rec.existed {
			tx.RemoveEntity(rec.Entity, rec.EntityID)
			return
		}
		tx.SetEntity(rec.Entity, rec.EntityID, rec.Before)
	})
	c.notify(change)

	if rec != nil {
		c.logger.Warn("optimistic write rolled back",
			"tx", txID,
			"entity", rec.Entity,
			"id", rec.EntityID,
			"op", rec.Op,
		)
	}
}

// Pending returns copies of the live transaction records in apply order.
func (c *Cache) Pending() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Transaction, 0, len(c.pending))
	for _, rec := range c.pending {
		cp := *rec
		cp.Before = ir.CloneMap(rec.Before)
		cp.Payload = ir.CloneMap(rec.Payload)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
