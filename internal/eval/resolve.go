package eval

import (
	"strings"
	"time"

	"github.com/roach88/optisync/internal/ir"
)

// Context is the state of one batch evaluation. Results grows as operations
// are evaluated; Operation names the one currently being evaluated and is
// used in errors.
type Context struct {
	Input     map[string]any
	Results   map[string]*ir.EvaluatedOperation
	Operation string
	IDs       IDGenerator
	Clock     Clock
}

// NewContext creates an evaluation context with an empty results table.
func NewContext(input map[string]any, ids IDGenerator, clock Clock) *Context {
	if ids == nil {
		ids = NewTempIDs()
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Context{
		Input:   input,
		Results: make(map[string]*ir.EvaluatedOperation),
		IDs:     ids,
		Clock:   clock,
	}
}

// Resolve returns the concrete value of a DSL value. Literals are returned
// unchanged. References are resolved against ctx:
//   - InputRef walks the input record; a null or missing intermediate segment
//     fails, a missing final segment yields ir.Undefined
//   - SiblingRef reads an evaluated sibling; path "id" yields its identifier
//   - TempRef mints a placeholder id
//   - NowRef yields the current UTC time as ISO-8601
//   - StateRef yields an ir.StateMarker; live state is not available here
//
// A map carrying an unrecognized $-prefixed key fails as an unknown
// reference.
func Resolve(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case ir.InputRef:
		return resolveInput(v, ctx)
	case ir.SiblingRef:
		return resolveSibling(v, ctx)
	case ir.TempRef:
		return ctx.IDs.Next(), nil
	case ir.NowRef:
		return ctx.now().UTC().Format(ir.TimestampFormat), nil
	case ir.StateRef:
		return ir.StateMarker{Field: v.Field}, nil
	case ir.Operator:
		return nil, newError(ErrCodeUnknownReference, ctx.Operation, "$"+string(v.Kind()),
			"operator is not allowed in this position")
	case map[string]any:
		if tag := unknownTag(v); tag != "" {
			return nil, newError(ErrCodeUnknownReference, ctx.Operation, tag,
				"unrecognized reference or operator %q", tag)
		}
		return v, nil
	}
	return value, nil
}

func (ctx *Context) now() time.Time {
	if ctx.Clock == nil {
		return time.Now()
	}
	return ctx.Clock.Now()
}

func resolveInput(ref ir.InputRef, ctx *Context) (any, error) {
	segs := ref.Segments()
	var cur any = ctx.Input
	for i, seg := range segs {
		cur = ir.Index(cur, seg)
		if i == len(segs)-1 {
			break
		}
		if ir.IsNullish(cur) {
			return nil, newError(ErrCodeInputPath, ctx.Operation, ir.TagInput,
				"input path %q: segment %q is null or undefined", ref.Path, strings.Join(segs[:i+1], "."))
		}
	}
	return ir.Clone(cur), nil
}

func resolveSibling(ref ir.SiblingRef, ctx *Context) (any, error) {
	res, ok := ctx.Results[ref.Name]
	if !ok {
		return nil, newError(ErrCodeUnknownSibling, ctx.Operation, ir.TagRef,
			"sibling %q has not been evaluated", ref.Name)
	}
	if ref.Path == "id" {
		if res.ID == nil && res.IDs != nil {
			return ir.Clone(res.IDs), nil
		}
		if res.ID == nil {
			return ir.Undefined, nil
		}
		return res.ID, nil
	}
	var cur any = res.Data
	for _, seg := range ref.Segments() {
		cur = ir.Index(cur, seg)
	}
	return ir.Clone(cur), nil
}

// unknownTag returns the first $-prefixed key of m in sorted order, or "".
func unknownTag(m map[string]any) string {
	for _, k := range ir.SortedKeys(m) {
		if strings.HasPrefix(k, "$") {
			return k
		}
	}
	return ""
}
