package ir

import (
	"encoding/json"
	"fmt"
)

// OpKind is the kind of entity operation.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// ValidOpKinds defines allowed operation kinds.
var ValidOpKinds = map[OpKind]bool{
	OpCreate: true,
	OpUpdate: true,
	OpDelete: true,
}

// IDForm identifies which of the mutually exclusive identifier forms a
// descriptor uses.
type IDForm int

const (
	// IDNone means no identifier was given. Valid only for create.
	IDNone IDForm = iota
	// IDSingle targets one entity ($id).
	IDSingle
	// IDList targets many entities by id ($ids).
	IDList
	// IDFilter targets many entities by query ($where).
	IDFilter
)

// IDSpec is the identifier specification of a descriptor.
// Exactly one of Value (for IDSingle and IDList) or Where (for IDFilter) is set.
type IDSpec struct {
	Form  IDForm
	Value any     // literal or Reference
	Where []Field // filter entries, values literal or Reference
}

// SingleID returns an IDSpec targeting one entity.
func SingleID(v any) IDSpec { return IDSpec{Form: IDSingle, Value: v} }

// IDs returns an IDSpec targeting a list of entities.
func IDs(v any) IDSpec { return IDSpec{Form: IDList, Value: v} }

// Filter returns an IDSpec targeting entities matched by a filter map.
func Filter(where ...Field) IDSpec { return IDSpec{Form: IDFilter, Where: where} }

// IsBulk reports whether s targets more than one entity.
func (s IDSpec) IsBulk() bool {
	return s.Form == IDList || s.Form == IDFilter
}

// Field is one assignment in a descriptor's field bag.
// Value is a literal, a Reference, or an Operator.
type Field struct {
	Name  string
	Value any
}

// F is a shorthand for Field.
func F(name string, value any) Field {
	return Field{Name: name, Value: value}
}

// Descriptor is one named node of a DSL batch.
type Descriptor struct {
	Entity string
	Op     OpKind
	ID     IDSpec
	Fields []Field // declaration order
}

// Batch is a named, ordered collection of descriptors submitted together
// for one logical mutation. Declaration order is significant: it breaks ties
// between mutually independent operations during evaluation.
type Batch struct {
	names []string
	ops   map[string]*Descriptor
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{ops: make(map[string]*Descriptor)}
}

// Add appends a named descriptor. Names must be unique within a batch.
func (b *Batch) Add(name string, d Descriptor) error {
	if _, exists := b.ops[name]; exists {
		return fmt.Errorf("duplicate operation name %q", name)
	}
	b.names = append(b.names, name)
	b.ops[name] = &d
	return nil
}

// MustAdd is Add that panics on duplicates. Intended for literals in tests.
func (b *Batch) MustAdd(name string, d Descriptor) *Batch {
	if err := b.Add(name, d); err != nil {
		panic(err)
	}
	return b
}

// Names returns operation names in declaration order.
func (b *Batch) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Get returns the descriptor for name.
func (b *Batch) Get(name string) (*Descriptor, bool) {
	d, ok := b.ops[name]
	return d, ok
}

// Has reports whether name is an operation of this batch.
func (b *Batch) Has(name string) bool {
	_, ok := b.ops[name]
	return ok
}

// Len returns the number of operations.
func (b *Batch) Len() int {
	return len(b.names)
}

// InstructionType is the kind of a deferred instruction.
type InstructionType string

const (
	InstrIncrement InstructionType = "increment"
	InstrDecrement InstructionType = "decrement"
	InstrPush      InstructionType = "push"
	InstrPull      InstructionType = "pull"
	InstrAddToSet  InstructionType = "addToSet"
	InstrDefault   InstructionType = "default"
	InstrIf        InstructionType = "if"
)

// DeferredInstruction is a field transform whose result depends on the
// entity's current value, which is only known at application time.
// For InstrIf, Condition/ThenValue/ElseValue are used and Value is unset.
type DeferredInstruction struct {
	Type      InstructionType
	Value     any
	Condition any
	ThenValue any
	ElseValue any
	HasElse   bool // absent else falls back to the current value
}

// MarshalJSON emits {type, value} or {type, condition, thenValue, elseValue?}.
func (d DeferredInstruction) MarshalJSON() ([]byte, error) {
	return json.Marshal(instructionObject(d))
}

// EvaluatedOperation is the concrete result of evaluating one descriptor.
// Immutable once produced.
type EvaluatedOperation struct {
	Name     string                         `json:"-"`
	Entity   string                         `json:"entity"`
	Op       OpKind                         `json:"op"`
	ID       any                            `json:"id,omitempty"`
	IDs      []any                          `json:"ids,omitempty"`
	Where    map[string]any                 `json:"where,omitempty"`
	Data     map[string]any                 `json:"data"`
	Deferred map[string]DeferredInstruction `json:"deferred,omitempty"`
}

// IsBulk reports whether the operation targets an id list or a filter.
func (o *EvaluatedOperation) IsBulk() bool {
	return o.IDs != nil || o.Where != nil
}
