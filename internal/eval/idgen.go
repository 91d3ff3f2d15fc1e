package eval

import (
	"fmt"
	"sync/atomic"
	"time"
)

// IDGenerator mints placeholder ids for $temp and for creates without an
// explicit identifier. Implementations must be safe for concurrent use.
type IDGenerator interface {
	Next() string
}

// TempIDs produces "temp_0", "temp_1", ... from a counter it owns.
type TempIDs struct {
	n atomic.Int64
}

// NewTempIDs creates a generator starting at temp_0.
func NewTempIDs() *TempIDs {
	return &TempIDs{}
}

// Next returns the next placeholder id.
func (g *TempIDs) Next() string {
	return fmt.Sprintf("temp_%d", g.n.Add(1)-1)
}

// Clock supplies the time used by $now.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
