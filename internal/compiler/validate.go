package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/optisync/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrEmptyBatch = "E100" // batch has no operations

	// Identifier errors (E110-E119)
	ErrMissingIdentifier = "E110" // update/delete without $id, $ids or $where
	ErrStateInIdentifier = "E111" // $state cannot identify an entity

	// Reference errors (E120-E129)
	ErrUnknownSibling     = "E120" // $ref names an operation outside the batch
	ErrUnknownTag         = "E121" // $-prefixed key that is no reference or operator
	ErrCircularDependency = "E122" // sibling references form a cycle
)

// ValidationError represents a batch validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled batch for problems that would make evaluation
// fail. Returns all errors found (does not fail-fast), in declaration order.
func Validate(batch *ir.Batch) []ValidationError {
	if batch == nil || batch.Len() == 0 {
		return []ValidationError{{
			Field:   "batch",
			Message: "batch must contain at least one operation",
			Code:    ErrEmptyBatch,
		}}
	}

	var errs []ValidationError
	for _, name := range batch.Names() {
		d, _ := batch.Get(name)
		errs = append(errs, validateOperation(batch, name, d)...)
	}

	for _, cycle := range AnalyzeCycles(batch) {
		errs = append(errs, ValidationError{
			Field:   cycle.Path[0],
			Message: cycle.Message,
			Code:    ErrCircularDependency,
		})
	}
	return errs
}

func validateOperation(batch *ir.Batch, name string, d *ir.Descriptor) []ValidationError {
	var errs []ValidationError

	// E110: update/delete must identify their target
	if d.Op != ir.OpCreate && d.ID.Form == ir.IDNone {
		errs = append(errs, ValidationError{
			Field:   name,
			Message: fmt.Sprintf("%s requires %s, %s or %s", d.Op, ir.TagID, ir.TagIDs, ir.TagWhere),
			Code:    ErrMissingIdentifier,
		})
	}

	checkID := func(field string, v any) {
		errs = append(errs, checkValue(batch, field, v, true)...)
	}
	switch d.ID.Form {
	case ir.IDSingle:
		checkID(name+"."+ir.TagID, d.ID.Value)
	case ir.IDList:
		checkID(name+"."+ir.TagIDs, d.ID.Value)
	case ir.IDFilter:
		for _, w := range d.ID.Where {
			checkID(name+"."+ir.TagWhere+"."+w.Name, w.Value)
		}
	}

	for _, f := range d.Fields {
		field := name + "." + f.Name
		if op, ok := f.Value.(ir.Operator); ok {
			for _, operand := range ir.Operands(op) {
				errs = append(errs, checkValue(batch, field, operand, false)...)
			}
			continue
		}
		errs = append(errs, checkValue(batch, field, f.Value, false)...)
	}
	return errs
}

// checkValue validates one compiled value. Lists are checked element-wise
// in identifier position, where they may hold references.
func checkValue(batch *ir.Batch, field string, v any, identifier bool) []ValidationError {
	var errs []ValidationError
	switch val := v.(type) {
	case ir.SiblingRef:
		// E120: sibling must exist in the batch
		if !batch.Has(val.Name) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s %q names no operation in this batch", ir.TagRef, val.Name),
				Code:    ErrUnknownSibling,
			})
		}
	case ir.StateRef:
		// E111: $state is unresolvable, so it cannot pick a target
		if identifier {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s cannot be used in an identifier", ir.TagState),
				Code:    ErrStateInIdentifier,
			})
		}
	case map[string]any:
		// E121: unknown $-tag
		for _, k := range ir.SortedKeys(val) {
			if strings.HasPrefix(k, "$") {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("unknown reference or operator %q", k),
					Code:    ErrUnknownTag,
				})
				break
			}
		}
	case []any:
		if identifier {
			for _, elem := range val {
				errs = append(errs, checkValue(batch, field, elem, true)...)
			}
		}
	}
	return errs
}
