package harness

// Trace event types.
const (
	EventSet      = "set"
	EventEvaluate = "evaluate"
	EventInFlight = "in_flight"
	EventSettled  = "settled"
	EventError    = "error"
	EventRetain   = "retain"
	EventRelease  = "release"
	EventGC       = "gc"
)

// TraceEvent is one observable step of a scenario run.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	Operation string `json:"operation,omitempty"`
	Mutation  string `json:"mutation,omitempty"`
	Status    string `json:"status,omitempty"`
	Entity    string `json:"entity,omitempty"`
	ID        any    `json:"id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Count     int    `json:"count,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event in the order it happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// canonical converts an event to a plain map for canonical JSON.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{
		"seq":  e.Seq,
		"type": e.Type,
	}
	set := func(key, v string) {
		if v != "" {
			m[key] = v
		}
	}
	set("operation", e.Operation)
	set("mutation", e.Mutation)
	set("status", e.Status)
	set("entity", e.Entity)
	set("error", e.Error)
	if e.ID != nil {
		m["id"] = e.ID
	}
	if e.Data != nil {
		m["data"] = e.Data
	}
	if e.Type == EventGC {
		m["count"] = int64(e.Count)
	}
	return m
}
