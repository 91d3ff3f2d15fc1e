package cache

// Retain adds a subscriber to an entity cell, creating it if needed, and
// clears its stale flag.
func (c *Cache) Retain(entity string, id any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell := c.entityCell(entity, id)
	cell.RefCount++
	cell.Stale = false
}

// Release drops a subscriber from an entity cell. At zero subscribers the
// cell is marked stale; it stays readable until GC.
func (c *Cache) Release(entity string, id any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell, ok := c.entities[KeyOf(entity, id)]
	if !ok {
		return
	}
	if cell.RefCount > 0 {
		cell.RefCount--
	}
	if cell.RefCount == 0 {
		cell.Stale = true
	}
}

// RetainList adds a subscriber to a list cell.
func (c *Cache) RetainList(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell := c.listCell(key)
	cell.RefCount++
	cell.Stale = false
}

// ReleaseList drops a subscriber from a list cell.
func (c *Cache) ReleaseList(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cell, ok := c.lists[key]
	if !ok {
		return
	}
	if cell.RefCount > 0 {
		cell.RefCount--
	}
	if cell.RefCount == 0 {
		cell.Stale = true
	}
}

// GC removes every stale cell with no subscribers and returns how many
// entity and list cells were removed. It only runs when called.
func (c *Cache) GC() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, cell := range c.entities {
		if cell.Stale && cell.RefCount == 0 {
			delete(c.entities, key)
			removed++
		}
	}
	for key, cell := range c.lists {
		if cell.Stale && cell.RefCount == 0 {
			delete(c.lists, key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("cache gc", "removed", removed)
	}
	return removed
}
