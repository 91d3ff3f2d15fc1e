package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/ir"
)

const chatCUE = `
mutation: {
	message: {
		"$entity": "Message"
		"$op":     "create"
		sessionId: {"$ref": "session.id"}
		body:      {"$input": "text"}
		sentAt:    {"$now": true}
	}
	session: {
		"$entity": "Session"
		"$op":     "create"
		title:     "Chat"
		unread:    {"$increment": 1}
	}
}
input: {
	text: "hi"
	n:    2.5
}
`

const chatYAML = `
mutation:
  message:
    $entity: Message
    $op: create
    sessionId: { $ref: session.id }
    body: { $input: text }
    sentAt: { $now: true }
  session:
    $entity: Session
    $op: create
    title: Chat
    unread: { $increment: 1 }
input:
  text: hi
  n: 2.5
`

const chatJSON = `{
  "mutation": {
    "message": {
      "$entity": "Message",
      "$op": "create",
      "sessionId": {"$ref": "session.id"},
      "body": {"$input": "text"},
      "sentAt": {"$now": true}
    },
    "session": {
      "$entity": "Session",
      "$op": "create",
      "title": "Chat",
      "unread": {"$increment": 1}
    }
  },
  "input": {"text": "hi", "n": 2.5}
}`

func expectedChatBatch() *ir.Batch {
	return ir.NewBatch().
		MustAdd("message", ir.Descriptor{
			Entity: "Message",
			Op:     ir.OpCreate,
			Fields: []ir.Field{
				ir.F("sessionId", ir.SiblingRef{Name: "session", Path: "id"}),
				ir.F("body", ir.InputRef{Path: "text"}),
				ir.F("sentAt", ir.NowRef{}),
			},
		}).
		MustAdd("session", ir.Descriptor{
			Entity: "Session",
			Op:     ir.OpCreate,
			Fields: []ir.Field{
				ir.F("title", "Chat"),
				ir.F("unread", ir.Increment{N: int64(1)}),
			},
		})
}

func TestParseFormatsAgree(t *testing.T) {
	parsers := map[string]func() (*Source, error){
		"cue":  func() (*Source, error) { return ParseCUE("chat.cue", []byte(chatCUE)) },
		"yaml": func() (*Source, error) { return ParseYAML([]byte(chatYAML)) },
		"json": func() (*Source, error) { return ParseJSON([]byte(chatJSON)) },
	}

	for name, parse := range parsers {
		t.Run(name, func(t *testing.T) {
			src, err := parse()
			require.NoError(t, err)

			batch, err := src.Batch()
			require.NoError(t, err)
			assert.Equal(t, expectedChatBatch(), batch)
			assert.Equal(t, map[string]any{"text": "hi", "n": 2.5}, src.Input)
		})
	}
}

func TestParseTopLevelOperations(t *testing.T) {
	yamlSrc, err := ParseYAML([]byte(`
b: { $entity: B, $op: create }
a: { $entity: A, $op: create }
`))
	require.NoError(t, err)
	assert.Nil(t, yamlSrc.Input)
	require.Len(t, yamlSrc.Operations, 2)
	assert.Equal(t, "b", yamlSrc.Operations[0].Name)
	assert.Equal(t, "a", yamlSrc.Operations[1].Name)

	jsonSrc, err := ParseJSON([]byte(`{"z": {"$entity": "Z", "$op": "create"}, "y": {"$entity": "Y", "$op": "create"}}`))
	require.NoError(t, err)
	require.Len(t, jsonSrc.Operations, 2)
	assert.Equal(t, "z", jsonSrc.Operations[0].Name)

	cueSrc, err := ParseCUE("top.cue", []byte(`
z: {"$entity": "Z", "$op": "create"}
"with-dash": {"$entity": "Y", "$op": "create"}
`))
	require.NoError(t, err)
	require.Len(t, cueSrc.Operations, 2)
	assert.Equal(t, "with-dash", cueSrc.Operations[1].Name)
}

func TestParseInputKeyFormatsAgree(t *testing.T) {
	t.Run("without mutation key input is an operation", func(t *testing.T) {
		parsers := map[string]func() (*Source, error){
			"yaml": func() (*Source, error) {
				return ParseYAML([]byte("a: { $entity: A, $op: create }\ninput: { $entity: I, $op: create }\n"))
			},
			"json": func() (*Source, error) {
				return ParseJSON([]byte(`{"a": {"$entity": "A", "$op": "create"}, "input": {"$entity": "I", "$op": "create"}}`))
			},
			"cue": func() (*Source, error) {
				return ParseCUE("top.cue", []byte(`
a: {"$entity": "A", "$op": "create"}
input: {"$entity": "I", "$op": "create"}
`))
			},
		}
		for name, parse := range parsers {
			t.Run(name, func(t *testing.T) {
				src, err := parse()
				require.NoError(t, err)
				assert.Nil(t, src.Input)
				require.Len(t, src.Operations, 2)
				assert.Equal(t, "a", src.Operations[0].Name)
				assert.Equal(t, "input", src.Operations[1].Name)
				assert.Equal(t, ir.F("$entity", "I"), src.Operations[1].Fields[0])
			})
		}
	})

	t.Run("json input before mutation is the input record", func(t *testing.T) {
		src, err := ParseJSON([]byte(`{"input": {"text": "hi"}, "mutation": {"a": {"$entity": "A", "$op": "create"}}}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"text": "hi"}, src.Input)
		require.Len(t, src.Operations, 1)
		assert.Equal(t, "a", src.Operations[0].Name)
	})
}

func TestParseNormalizesNumbers(t *testing.T) {
	src, err := ParseJSON([]byte(`{"a": {"$entity": "A", "$op": "create", "n": 3, "f": 0.5, "big": 12345678901234}}`))
	require.NoError(t, err)
	require.Len(t, src.Operations, 1)

	fields := src.Operations[0].Fields
	assert.Equal(t, ir.F("n", int64(3)), fields[2])
	assert.Equal(t, ir.F("f", 0.5), fields[3])
	assert.Equal(t, ir.F("big", int64(12345678901234)), fields[4])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		parse func() (*Source, error)
		msg   string
	}{
		{"yaml scalar document", func() (*Source, error) { return ParseYAML([]byte("just text")) }, "must be a mapping"},
		{"yaml operation not a map", func() (*Source, error) { return ParseYAML([]byte("a: 1")) }, "a.operation: must be a mapping"},
		{"yaml syntax", func() (*Source, error) { return ParseYAML([]byte("a: [")) }, "parse YAML"},
		{"json not an object", func() (*Source, error) { return ParseJSON([]byte(`[1]`)) }, "expected object"},
		{"json empty", func() (*Source, error) { return ParseJSON([]byte(``)) }, "expected object"},
		{"json input not a map", func() (*Source, error) { return ParseJSON([]byte(`{"input": 3, "mutation": {}}`)) }, "input must be a map"},
		{"json top-level input not an operation", func() (*Source, error) { return ParseJSON([]byte(`{"input": 3}`)) }, "expected object"},
		{"cue syntax", func() (*Source, error) { return ParseCUE("bad.cue", []byte(`a: {`)) }, ""},
		{"cue non-concrete", func() (*Source, error) {
			return ParseCUE("open.cue", []byte(`a: {"$entity": string, "$op": "create"}`))
		}, "must be concrete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.parse()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"chat.cue":  chatCUE,
		"chat.yaml": chatYAML,
		"chat.yml":  chatYAML,
		"chat.json": chatJSON,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		src, err := LoadFile(path)
		require.NoError(t, err, name)
		assert.Len(t, src.Operations, 2, name)
	}

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	txt := filepath.Join(dir, "batch.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	_, err = LoadFile(txt)
	assert.ErrorContains(t, err, "unsupported mutation file extension")
}

func TestLoadInput(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"in.json": `{"title": "Hello", "count": 2}`,
		"in.yaml": "title: Hello\ncount: 2\n",
		"in.cue":  "title: \"Hello\"\ncount: 2\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		input, err := LoadInput(path)
		require.NoError(t, err, name)
		assert.Equal(t, map[string]any{"title": "Hello", "count": int64(2)}, input, name)
	}

	list := filepath.Join(dir, "list.json")
	require.NoError(t, os.WriteFile(list, []byte(`[1, 2]`), 0o644))
	_, err := LoadInput(list)
	assert.ErrorContains(t, err, "input must be a map")
}
