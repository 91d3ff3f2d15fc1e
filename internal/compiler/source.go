package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/optisync/internal/ir"
)

// Source is a parsed mutation document: the batch operations in declaration
// order plus an optional inline input record.
//
// A document either nests operations under a "mutation" key (with an
// optional sibling "input" key) or lists operations at the top level:
//
//	mutation:
//	  session: { $entity: Session, $op: create, title: Chat }
//	  message: { $entity: Message, $op: create, sessionId: { $ref: session.id } }
//	input:
//	  title: Chat
type Source struct {
	Operations []RawOperation
	Input      map[string]any
}

// Batch compiles the source's operations.
func (s *Source) Batch() (*ir.Batch, error) {
	return CompileBatch(s.Operations)
}

const (
	keyMutation = "mutation"
	keyInput    = "input"
)

// LoadFile reads and parses a mutation document. The format is chosen by
// extension: .cue, .yaml/.yml, or .json.
func LoadFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mutation file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return ParseCUE(path, data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	case ".json":
		return ParseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported mutation file extension %q (want .cue, .yaml, .yml or .json)", filepath.Ext(path))
	}
}

// LoadInput reads a standalone input record in any supported format.
func LoadInput(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}

	var raw any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		v := cuecontext.New().CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		raw, err = cueToAny(v)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".json":
		err = newJSONDecoder(data).Decode(&raw)
	default:
		return nil, fmt.Errorf("unsupported input file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse input file: %w", err)
	}
	return asRecord(raw)
}

func asRecord(raw any) (map[string]any, error) {
	if raw == nil {
		return map[string]any{}, nil
	}
	n, err := ir.Normalize(raw)
	if err != nil {
		return nil, err
	}
	m, ok := n.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("input must be a map, got %T", n)
	}
	return m, nil
}

// ParseCUE parses a mutation document written in CUE. Field order in CUE
// structs is declaration order, so batch order is preserved.
func ParseCUE(filename string, src []byte) (*Source, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	ops := v
	src2 := &Source{}
	if m := v.LookupPath(cue.ParsePath(keyMutation)); m.Exists() {
		ops = m
		if in := v.LookupPath(cue.ParsePath(keyInput)); in.Exists() {
			raw, err := cueToAny(in)
			if err != nil {
				return nil, err
			}
			if src2.Input, err = asRecord(raw); err != nil {
				return nil, &CompileError{Field: keyInput, Message: err.Error(), Pos: in.Pos()}
			}
		}
	}

	iter, err := ops.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := unquoteLabel(iter.Label())
		opVal := iter.Value()
		raw := RawOperation{Name: name, Pos: opVal.Pos()}

		fields, err := opVal.Fields()
		if err != nil {
			return nil, &CompileError{Operation: name, Field: "operation", Message: "must be a struct", Pos: opVal.Pos()}
		}
		for fields.Next() {
			val, err := cueToAny(fields.Value())
			if err != nil {
				return nil, err
			}
			raw.Fields = append(raw.Fields, ir.F(unquoteLabel(fields.Label()), val))
		}
		src2.Operations = append(src2.Operations, raw)
	}
	return src2, nil
}

// cueToAny converts a concrete CUE value to a normalized literal.
func cueToAny(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.NullKind:
		return nil, nil
	case cue.BoolKind:
		b, err := v.Bool()
		return b, formatCUEError(err)
	case cue.IntKind:
		n, err := v.Int64()
		return n, formatCUEError(err)
	case cue.FloatKind:
		f, err := v.Float64()
		return f, formatCUEError(err)
	case cue.StringKind:
		s, err := v.String()
		return s, formatCUEError(err)
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := []any{}
		for iter.Next() {
			elem, err := cueToAny(iter.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out := map[string]any{}
		for iter.Next() {
			elem, err := cueToAny(iter.Value())
			if err != nil {
				return nil, err
			}
			out[unquoteLabel(iter.Label())] = elem
		}
		return out, nil
	default:
		return nil, &CompileError{
			Field:   "value",
			Message: fmt.Sprintf("value must be concrete (got %v)", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// unquoteLabel strips CUE quoting from labels such as "my-op".
func unquoteLabel(label string) string {
	if strings.HasPrefix(label, `"`) {
		if s, err := strconv.Unquote(label); err == nil {
			return s
		}
	}
	return label
}

// ParseYAML parses a mutation document written in YAML. Mapping order is
// read from the node tree, so batch order is preserved.
func ParseYAML(src []byte) (*Source, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return &Source{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("mutation document must be a mapping (line %d)", root.Line)
	}

	out := &Source{}
	ops := root
	if m := yamlLookup(root, keyMutation); m != nil {
		ops = m
		if in := yamlLookup(root, keyInput); in != nil {
			var raw any
			if err := in.Decode(&raw); err != nil {
				return nil, fmt.Errorf("input (line %d): %w", in.Line, err)
			}
			rec, err := asRecord(raw)
			if err != nil {
				return nil, fmt.Errorf("input (line %d): %w", in.Line, err)
			}
			out.Input = rec
		}
	}
	if ops.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s must be a mapping (line %d)", keyMutation, ops.Line)
	}

	for i := 0; i+1 < len(ops.Content); i += 2 {
		name, body := ops.Content[i].Value, ops.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, &CompileError{Operation: name, Field: "operation", Message: fmt.Sprintf("must be a mapping (line %d)", body.Line)}
		}
		raw := RawOperation{Name: name}
		for j := 0; j+1 < len(body.Content); j += 2 {
			var v any
			if err := body.Content[j+1].Decode(&v); err != nil {
				return nil, fmt.Errorf("%s.%s (line %d): %w", name, body.Content[j].Value, body.Content[j+1].Line, err)
			}
			n, err := ir.Normalize(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, body.Content[j].Value, err)
			}
			raw.Fields = append(raw.Fields, ir.F(body.Content[j].Value, n))
		}
		out.Operations = append(out.Operations, raw)
	}
	return out, nil
}

func yamlLookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// ParseJSON parses a mutation document written in JSON. Object order is
// read from the token stream, so batch order is preserved. As in the other
// formats, a top-level input key is the input record only next to a
// mutation key; otherwise it is an operation named input.
func ParseJSON(src []byte) (*Source, error) {
	dec := newJSONDecoder(src)

	out := &Source{}
	var topLevel []RawOperation
	var input json.RawMessage
	inputPos := -1
	nested := false

	err := decodeObject(dec, func(key string) error {
		switch key {
		case keyMutation:
			nested = true
			ops, err := decodeOperations(dec)
			if err != nil {
				return err
			}
			out.Operations = ops
			return nil
		case keyInput:
			// Meaning depends on whether a mutation key appears, possibly later.
			inputPos = len(topLevel)
			return dec.Decode(&input)
		}
		op, err := decodeOperation(dec, key)
		if err != nil {
			return err
		}
		topLevel = append(topLevel, op)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}

	if nested {
		if input != nil {
			var raw any
			if err := newJSONDecoder(input).Decode(&raw); err != nil {
				return nil, fmt.Errorf("parse JSON: input: %w", err)
			}
			rec, err := asRecord(raw)
			if err != nil {
				return nil, fmt.Errorf("parse JSON: input: %w", err)
			}
			out.Input = rec
		}
		return out, nil
	}

	if input != nil {
		op, err := decodeOperation(newJSONDecoder(input), keyInput)
		if err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
		topLevel = append(topLevel[:inputPos], append([]RawOperation{op}, topLevel[inputPos:]...)...)
	}
	out.Operations = topLevel
	return out, nil
}

func newJSONDecoder(src []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	return dec
}

func decodeOperations(dec *json.Decoder) ([]RawOperation, error) {
	var ops []RawOperation
	err := decodeObject(dec, func(name string) error {
		op, err := decodeOperation(dec, name)
		if err != nil {
			return err
		}
		ops = append(ops, op)
		return nil
	})
	return ops, err
}

func decodeOperation(dec *json.Decoder, name string) (RawOperation, error) {
	raw := RawOperation{Name: name}
	err := decodeObject(dec, func(field string) error {
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("%s.%s: %w", name, field, err)
		}
		n, err := ir.Normalize(v)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", name, field, err)
		}
		raw.Fields = append(raw.Fields, ir.F(field, n))
		return nil
	})
	return raw, err
}

// decodeObject reads one JSON object from dec, calling fn for every key with
// the decoder positioned at the key's value. fn must consume the value.
func decodeObject(dec *json.Decoder, fn func(key string) error) error {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("expected object, got end of input")
		}
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	_, err = dec.Token() // closing '}'
	return err
}
