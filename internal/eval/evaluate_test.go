package eval

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/optisync/internal/ir"
	"github.com/roach88/optisync/internal/testutil"
)

func newTestEvaluator() *Evaluator {
	return New(
		WithClock(testutil.NewFixedClock(time.Time{})),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func TestEvaluateSingleCreate(t *testing.T) {
	batch := ir.NewBatch().MustAdd("post", create("Post",
		ir.F("title", "Hello World"),
		ir.F("published", false),
	))

	ops, err := newTestEvaluator().Evaluate(batch, map[string]any{})
	require.NoError(t, err)
	require.Len(t, ops, 1)

	assert.Equal(t, ir.EvaluatedOperation{
		Name:   "post",
		Entity: "Post",
		Op:     ir.OpCreate,
		ID:     "temp_0",
		Data:   map[string]any{"title": "Hello World", "published": false},
	}, ops[0])
}

func TestEvaluateSiblingIDSharedAcrossOperations(t *testing.T) {
	// message is declared first but depends on session.
	batch := ir.NewBatch().
		MustAdd("message", create("Message", ir.F("sessionId", ref("session.id")))).
		MustAdd("session", create("Session", ir.F("title", "Chat")))

	ops, err := newTestEvaluator().Evaluate(batch, nil)
	require.NoError(t, err)
	require.Len(t, ops, 2)

	assert.Equal(t, "session", ops[0].Name)
	assert.Equal(t, "message", ops[1].Name)
	assert.Equal(t, ops[0].ID, ops[1].Data["sessionId"])
	assert.NotEqual(t, ops[0].ID, ops[1].ID)
}

func TestEvaluateOrderIsTopological(t *testing.T) {
	batch := ir.NewBatch().
		MustAdd("comment", create("Comment",
			ir.F("postId", ref("post.id")),
			ir.F("authorId", ref("user.id")),
		)).
		MustAdd("post", create("Post", ir.F("authorId", ref("user.id")))).
		MustAdd("tag", create("Tag")).
		MustAdd("user", create("User")).
		MustAdd("stats", ir.Descriptor{
			Entity: "Stats",
			Op:     ir.OpUpdate,
			ID:     ir.SingleID("global"),
			Fields: []ir.Field{ir.F("comments", ir.Increment{N: int64(1)}), ir.F("last", ref("comment.id"))},
		})

	ops, err := newTestEvaluator().Evaluate(batch, nil)
	require.NoError(t, err)

	graph := BuildGraph(batch)
	position := make(map[string]int, len(ops))
	for i, op := range ops {
		position[op.Name] = i
	}
	for name, deps := range graph {
		for _, dep := range deps {
			assert.Less(t, position[dep], position[name], "%s must precede %s", dep, name)
		}
	}
}

func TestEvaluateMap(t *testing.T) {
	batch := ir.NewBatch().
		MustAdd("session", create("Session", ir.F("title", ir.InputRef{Path: "title"}))).
		MustAdd("message", create("Message", ir.F("sessionId", ref("session.id"))))

	results, err := newTestEvaluator().EvaluateMap(batch, map[string]any{"title": "Chat"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Chat", results["session"].Data["title"])
	assert.Equal(t, results["session"].ID, results["message"].Data["sessionId"])
}

func TestEvaluateIdentifiers(t *testing.T) {
	input := map[string]any{
		"postId":  "p1",
		"ids":     []any{"a", "b"},
		"authors": map[string]any{"id": "u7"},
	}

	tests := []struct {
		name  string
		desc  ir.Descriptor
		id    any
		ids   []any
		where map[string]any
	}{
		{
			name: "explicit create id",
			desc: ir.Descriptor{Entity: "Post", Op: ir.OpCreate, ID: ir.SingleID("fixed")},
			id:   "fixed",
		},
		{
			name: "create id from missing input mints temp",
			desc: ir.Descriptor{Entity: "Post", Op: ir.OpCreate, ID: ir.SingleID(ir.InputRef{Path: "nope"})},
			id:   "temp_0",
		},
		{
			name: "update id from input",
			desc: ir.Descriptor{Entity: "Post", Op: ir.OpUpdate, ID: ir.SingleID(ir.InputRef{Path: "postId"})},
			id:   "p1",
		},
		{
			name: "ids from input list",
			desc: ir.Descriptor{Entity: "Post", Op: ir.OpDelete, ID: ir.IDs(ir.InputRef{Path: "ids"})},
			ids:  []any{"a", "b"},
		},
		{
			name: "ids literal list with references",
			desc: ir.Descriptor{Entity: "Post", Op: ir.OpDelete, ID: ir.IDs([]any{ir.InputRef{Path: "postId"}, "p2"})},
			ids:  []any{"p1", "p2"},
		},
		{
			name: "ids single value wrapped",
			desc: ir.Descriptor{Entity: "Post", Op: ir.OpDelete, ID: ir.IDs(ir.InputRef{Path: "postId"})},
			ids:  []any{"p1"},
		},
		{
			name: "where resolves each value",
			desc: ir.Descriptor{Entity: "Post", Op: ir.OpUpdate, ID: ir.Filter(
				ir.F("authorId", ir.InputRef{Path: "authors.id"}),
				ir.F("draft", true),
			)},
			where: map[string]any{"authorId": "u7", "draft": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := ir.NewBatch().MustAdd("op", tt.desc)
			ops, err := newTestEvaluator().Evaluate(batch, input)
			require.NoError(t, err)
			require.Len(t, ops, 1)

			assert.Equal(t, tt.id, ops[0].ID)
			assert.Equal(t, tt.ids, ops[0].IDs)
			assert.Equal(t, tt.where, ops[0].Where)
		})
	}
}

func TestEvaluateMissingID(t *testing.T) {
	tests := []struct {
		name string
		desc ir.Descriptor
	}{
		{"update without id", ir.Descriptor{Entity: "Post", Op: ir.OpUpdate}},
		{"delete without id", ir.Descriptor{Entity: "Post", Op: ir.OpDelete}},
		{"update id resolves to undefined", ir.Descriptor{Entity: "Post", Op: ir.OpUpdate, ID: ir.SingleID(ir.InputRef{Path: "id"})}},
		{"delete id resolves to null", ir.Descriptor{Entity: "Post", Op: ir.OpDelete, ID: ir.SingleID(nil)}},
		{"ids resolve to nothing", ir.Descriptor{Entity: "Post", Op: ir.OpDelete, ID: ir.IDs(ir.InputRef{Path: "ids"})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := ir.NewBatch().MustAdd("edit", tt.desc)
			_, err := newTestEvaluator().Evaluate(batch, map[string]any{})
			require.Error(t, err)
			assert.True(t, IsMissingIDError(err))

			var ee *EvalError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, "edit", ee.Operation)
		})
	}
}

func TestEvaluatePartitionsDataAndDeferred(t *testing.T) {
	batch := ir.NewBatch().MustAdd("post", ir.Descriptor{
		Entity: "Post",
		Op:     ir.OpUpdate,
		ID:     ir.SingleID("p1"),
		Fields: []ir.Field{
			ir.F("title", ir.InputRef{Path: "title"}),
			ir.F("subtitle", ir.InputRef{Path: "subtitle"}),
			ir.F("views", ir.Increment{N: int64(1)}),
			ir.F("tags", ir.AddToSet{Items: ir.InputRef{Path: "tag"}}),
			ir.F("status", ir.If{Condition: ir.InputRef{Path: "publish"}, Then: "live"}),
			ir.F("updatedAt", ir.NowRef{}),
			ir.F("likes", ir.StateRef{Field: "likes"}),
		},
	})

	ops, err := newTestEvaluator().Evaluate(batch, map[string]any{"title": "New", "tag": "go", "publish": true})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	op := ops[0]

	assert.Equal(t, map[string]any{
		"title":     "New",
		"updatedAt": "2024-01-01T00:00:00.000Z",
		"likes":     ir.StateMarker{Field: "likes"},
	}, op.Data, "undefined subtitle must be omitted")

	assert.Equal(t, map[string]ir.DeferredInstruction{
		"views":  {Type: ir.InstrIncrement, Value: int64(1)},
		"tags":   {Type: ir.InstrAddToSet, Value: []any{"go"}},
		"status": {Type: ir.InstrIf, Condition: true, ThenValue: "live"},
	}, op.Deferred)
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name  string
		batch *ir.Batch
		code  ErrorCode
		op    string
	}{
		{
			name:  "self reference",
			batch: ir.NewBatch().MustAdd("a", create("A", ir.F("x", ref("a.x")))),
			code:  ErrCodeCircularDependency,
			op:    "a",
		},
		{
			name:  "reference to operation outside the batch",
			batch: ir.NewBatch().MustAdd("a", create("A", ir.F("x", ref("elsewhere.id")))),
			code:  ErrCodeUnknownSibling,
			op:    "a",
		},
		{
			name:  "unknown tag",
			batch: ir.NewBatch().MustAdd("a", create("A", ir.F("x", map[string]any{"$lookup": "y"}))),
			code:  ErrCodeUnknownReference,
			op:    "a",
		},
		{
			name:  "null intermediate input",
			batch: ir.NewBatch().MustAdd("a", create("A", ir.F("x", ir.InputRef{Path: "user.name"}))),
			code:  ErrCodeInputPath,
			op:    "a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestEvaluator().Evaluate(tt.batch, map[string]any{"user": nil})
			require.Error(t, err)

			var ee *EvalError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.code, ee.Code)
			assert.Equal(t, tt.op, ee.Operation)
		})
	}
}

func TestEvaluatorOwnsTempCounter(t *testing.T) {
	batch := ir.NewBatch().MustAdd("post", create("Post"))

	ev := newTestEvaluator()
	first, err := ev.Evaluate(batch, nil)
	require.NoError(t, err)
	second, err := ev.Evaluate(batch, nil)
	require.NoError(t, err)
	assert.Equal(t, "temp_0", first[0].ID)
	assert.Equal(t, "temp_1", second[0].ID, "ids must not repeat across batches of one evaluator")

	other, err := newTestEvaluator().Evaluate(batch, nil)
	require.NoError(t, err)
	assert.Equal(t, "temp_0", other[0].ID, "evaluators do not share counters")
}

func TestEvaluateWithBatchIDs(t *testing.T) {
	batch := ir.NewBatch().
		MustAdd("a", create("A")).
		MustAdd("b", create("B", ir.F("a", ref("a.id"))))

	ev := newTestEvaluator()
	const n = 10

	var wg sync.WaitGroup
	results := make([][]ir.EvaluatedOperation, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ops, err := ev.Evaluate(batch, nil, WithBatchIDs(NewTempIDs()))
			if assert.NoError(t, err) {
				results[i] = ops
			}
		}(i)
	}
	wg.Wait()

	for _, ops := range results {
		require.Len(t, ops, 2)
		assert.Equal(t, "temp_0", ops[0].ID)
		assert.Equal(t, "temp_1", ops[1].ID)
	}

	shared, err := ev.Evaluate(batch, nil)
	require.NoError(t, err)
	assert.Equal(t, "temp_0", shared[0].ID, "per-call generators leave the shared counter untouched")

	byName, err := ev.EvaluateMap(batch, nil, WithBatchIDs(NewTempIDs()))
	require.NoError(t, err)
	assert.Equal(t, "temp_0", byName["a"].ID)
}

func TestEvaluateConcurrentBatchesGetDistinctIDs(t *testing.T) {
	batch := ir.NewBatch().
		MustAdd("a", create("A")).
		MustAdd("b", create("B", ir.F("a", ref("a.id"))))

	ev := newTestEvaluator()
	const n = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[any]bool)
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ops, err := ev.Evaluate(batch, nil)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, ops[0].ID, ops[1].Data["a"])
			mu.Lock()
			seen[ops[0].ID] = true
			seen[ops[1].ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 2*n)
}

func TestEvaluateDoesNotMutateBatch(t *testing.T) {
	batch := ir.NewBatch().MustAdd("post", create("Post", ir.F("tags", []any{"a"})))

	ops, err := newTestEvaluator().Evaluate(batch, nil)
	require.NoError(t, err)
	require.Len(t, ops, 1)

	d, _ := batch.Get("post")
	assert.Equal(t, []ir.Field{ir.F("tags", []any{"a"})}, d.Fields)
	assert.Equal(t, ir.IDNone, d.ID.Form)
}
