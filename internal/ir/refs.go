package ir

import "strings"

// Reference is a sealed interface for tagged value references.
// Only InputRef, SiblingRef, TempRef, NowRef and StateRef implement it.
type Reference interface {
	reference()
	// Tag returns the DSL tag this reference was written with, e.g. "$input".
	Tag() string
}

// DSL tags recognized in field values.
const (
	TagInput = "$input"
	TagRef   = "$ref"
	TagTemp  = "$temp"
	TagNow   = "$now"
	TagState = "$state"

	TagIncrement = "$increment"
	TagDecrement = "$decrement"
	TagPush      = "$push"
	TagPull      = "$pull"
	TagAddToSet  = "$addToSet"
	TagDefault   = "$default"
	TagIf        = "$if"

	TagEntity = "$entity"
	TagOp     = "$op"
	TagID     = "$id"
	TagIDs    = "$ids"
	TagWhere  = "$where"
)

// InputRef is a dot-path into the mutation input record.
type InputRef struct {
	Path string
}

func (InputRef) reference()  {}
func (InputRef) Tag() string { return TagInput }

// Segments splits the path on dots.
func (r InputRef) Segments() []string { return splitPath(r.Path) }

// SiblingRef is a dot-path into an already-evaluated sibling's result.
// Path "id" addresses the sibling's resolved identifier.
type SiblingRef struct {
	Name string
	Path string
}

func (SiblingRef) reference()  {}
func (SiblingRef) Tag() string { return TagRef }

// Segments splits the path on dots.
func (r SiblingRef) Segments() []string { return splitPath(r.Path) }

// ParseSiblingRef parses "name.path" into a SiblingRef. The first segment is
// the sibling name; everything after it is the path.
func ParseSiblingRef(s string) SiblingRef {
	name, path, _ := strings.Cut(s, ".")
	return SiblingRef{Name: name, Path: path}
}

// TempRef mints a fresh placeholder id.
type TempRef struct{}

func (TempRef) reference()  {}
func (TempRef) Tag() string { return TagTemp }

// NowRef resolves to the current timestamp.
type NowRef struct{}

func (NowRef) reference()  {}
func (NowRef) Tag() string { return TagNow }

// StateRef requests a field of the live entity state. It is not resolvable
// during batch evaluation; it resolves to a StateMarker.
type StateRef struct {
	Field string
}

func (StateRef) reference()  {}
func (StateRef) Tag() string { return TagState }

// Operator is a sealed interface for state-dependent field transforms.
// Operands may be literals or References.
type Operator interface {
	operator()
	// Kind returns the deferred instruction type this operator compiles to.
	Kind() InstructionType
}

// Increment adds N to the current value.
type Increment struct{ N any }

// Decrement subtracts N from the current value.
type Decrement struct{ N any }

// Push appends Items to the current list. Items is a single operand or []any.
type Push struct{ Items any }

// Pull removes elements equal to any of Items.
type Pull struct{ Items any }

// AddToSet appends Items not already present.
type AddToSet struct{ Items any }

// Default supplies Value when the current value is undefined.
type Default struct{ Value any }

// If picks Then or Else by the truthiness of Condition. Without Else the
// current value is kept.
type If struct {
	Condition any
	Then      any
	Else      any
	HasElse   bool
}

func (Increment) operator() {}
func (Decrement) operator() {}
func (Push) operator()      {}
func (Pull) operator()      {}
func (AddToSet) operator()  {}
func (Default) operator()   {}
func (If) operator()        {}

func (Increment) Kind() InstructionType { return InstrIncrement }
func (Decrement) Kind() InstructionType { return InstrDecrement }
func (Push) Kind() InstructionType      { return InstrPush }
func (Pull) Kind() InstructionType      { return InstrPull }
func (AddToSet) Kind() InstructionType  { return InstrAddToSet }
func (Default) Kind() InstructionType   { return InstrDefault }
func (If) Kind() InstructionType        { return InstrIf }

// Operands returns every operand of op, flattening list operands.
// Used by dependency scanning.
func Operands(op Operator) []any {
	var raw []any
	switch o := op.(type) {
	case Increment:
		raw = []any{o.N}
	case Decrement:
		raw = []any{o.N}
	case Push:
		raw = []any{o.Items}
	case Pull:
		raw = []any{o.Items}
	case AddToSet:
		raw = []any{o.Items}
	case Default:
		raw = []any{o.Value}
	case If:
		raw = []any{o.Condition, o.Then}
		if o.HasElse {
			raw = append(raw, o.Else)
		}
	}
	var out []any
	for _, v := range raw {
		if list, ok := v.([]any); ok {
			out = append(out, list...)
			continue
		}
		out = append(out, v)
	}
	return out
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, ".")
}
