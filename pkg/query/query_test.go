package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mustVerb returns a checker for constructors that can fail, used as
// mustVerb(t)(NewLookup(...)).
func mustVerb(t *testing.T) func(Verb, error) Verb {
	return func(v Verb, err error) Verb {
		t.Helper()
		require.NoError(t, err)
		return v
	}
}

func sampleVerbs(t *testing.T) map[Kind]Verb {
	t.Helper()
	orderby, err := NewOrderby("a", Desc("b"), Func("d.c * 2"))
	require.NoError(t, err)
	sub := NewBuilder("other").Select(map[string]any{"x": "a"})

	return map[Kind]Verb{
		KindReify:     NewReify(),
		KindCount:     NewCount(map[string]any{"as": "n"}),
		KindDedupe:    NewDedupe("a", []string{"b"}),
		KindDerive:    NewDerive(map[string]any{"z": "d.a + 1", "r": Rolling(Op("sum", "a"), []any{-1, 1}, true)}),
		KindFilter:    NewFilter("d.a > params.min"),
		KindGroupby:   NewGroupby("a", Func("d.b % 2")),
		KindOrderby:   orderby,
		KindRollup:    NewRollup(map[string]any{"total": Op("sum", "a")}),
		KindSample:    NewSample(10, map[string]any{"weight": "w", "replace": true}),
		KindSelect:    NewSelect("a", Not{Items: []any{"b"}}, Range{From: "c", To: 5}, All{}),
		KindUngroup:   NewUngroup(),
		KindUnorder:   NewUnorder(),
		KindFold:      NewFold([]string{"a", "b"}, map[string]any{"as": []string{"k", "v"}}),
		KindPivot:     NewPivot("key", "value", nil),
		KindSpread:    NewSpread("list", map[string]any{"limit": 2}),
		KindUnroll:    NewUnroll("list", map[string]any{"index": true, "drop": []string{"x"}}),
		KindLookup:    mustVerb(t)(NewLookup("other", []any{"k", "k"}, []string{"v"})),
		KindJoin:      mustVerb(t)(NewJoin("other", []any{"k", "j"}, []any{[]string{"a"}, []string{"b"}}, map[string]any{"left": true})),
		KindCross:     NewCross(sub, nil, map[string]any{"suffix": []string{"_l", "_r"}}),
		KindSemijoin:  mustVerb(t)(NewSemijoin("other", "a.k == b.k")),
		KindAntijoin:  mustVerb(t)(NewAntijoin("other", []any{"k"})),
		KindConcat:    NewConcat("t1", sub),
		KindUnion:     NewUnion("t1", "t2"),
		KindIntersect: NewIntersect([]string{"t1", "t2"}),
		KindExcept:    NewExcept("t1"),
	}
}

func TestVerbRoundTrip(t *testing.T) {
	verbs := sampleVerbs(t)
	require.Len(t, verbs, len(Kinds))

	for _, kind := range Kinds {
		t.Run(string(kind), func(t *testing.T) {
			v := verbs[kind]
			require.NotNil(t, v)
			assert.Equal(t, kind, v.Kind())

			obj, err := VerbToObject(v)
			require.NoError(t, err)
			data, err := json.Marshal(obj)
			require.NoError(t, err)

			decoded, err := DecodeJSON(data)
			require.NoError(t, err)
			back, err := VerbFromObject(decoded)
			require.NoError(t, err)
			assert.Equal(t, kind, back.Kind())

			again, err := VerbToObject(back)
			require.NoError(t, err)
			data2, err := json.Marshal(again)
			require.NoError(t, err)
			assert.JSONEq(t, string(data), string(data2))
		})
	}
}

func TestVerbObjectIncludesUnsetParams(t *testing.T) {
	obj, err := VerbToObject(NewPivot("k", "v", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"verb", "keys", "values", "options"}, obj.Keys())
	opts, ok := obj.Get("options")
	assert.True(t, ok)
	assert.Nil(t, opts)
}

func TestVerbObjectForms(t *testing.T) {
	orderby, err := NewOrderby(Desc("b"))
	require.NoError(t, err)
	obj, err := VerbToObject(orderby)
	require.NoError(t, err)
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verb":"orderby","keys":[{"expr":"b","field":true,"desc":true}]}`, string(data))

	obj, err = VerbToObject(NewDerive(map[string]any{"s": Rolling(Func("op.sum(d.x)"), nil, false)}))
	require.NoError(t, err)
	data, err = json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verb":"derive","values":{"s":{"expr":"op.sum(d.x)","func":true,"window":{"frame":[null,0],"peers":false}}}}`, string(data))

	join, err := NewJoin("other", []any{"k", "j"}, nil, nil)
	require.NoError(t, err)
	obj, err = VerbToObject(join)
	require.NoError(t, err)
	data, err = json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verb":"join","table":"other","on":[[{"expr":"k","field":true}],[{"expr":"j","field":true,"index":1}]],"values":null,"options":null}`, string(data))
}

func TestVerbFromObjectErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  string
	}{
		{"unknown verb", `{"verb":"explode"}`, "explode"},
		{"missing verb", `{"keys":[]}`, ""},
		{"bad orderby key", `{"verb":"orderby","keys":[true]}`, "orderby"},
		{"bad table ref", `{"verb":"lookup","table":5,"on":[],"values":[]}`, "lookup"},
		{"bad range", `{"verb":"select","columns":[{"range":["a"]}]}`, "select"},
		{"bad tables", `{"verb":"union","tables":"t1"}`, "union"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecodeJSON([]byte(tt.input))
			require.NoError(t, err)
			_, err = VerbFromObject(decoded)
			require.Error(t, err)
			var mv *MalformedVerbError
			require.ErrorAs(t, err, &mv)
			assert.Equal(t, tt.kind, mv.Kind)
		})
	}

	_, err := VerbFromObject("reify")
	assert.Error(t, err)
}

func TestQueryJSON(t *testing.T) {
	b := NewBuilder("T").
		Filter("d.x > params.min").
		Rollup(map[string]any{"sx": Op("sum", "x")}).
		WithParams(map[string]any{"min": 1})

	data, err := json.Marshal(b)
	require.NoError(t, err)

	q, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, "T", q.TableName())
	v, ok := q.Params().Get("min")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	var q2 Query
	require.NoError(t, json.Unmarshal(data, &q2))
	data2, err := json.Marshal(&q2)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(data2))
}

func TestQueryFromObjectErrors(t *testing.T) {
	for _, input := range []string{`[]`, `{"verbs":{}}`, `{"verbs":[],"params":[]}`, `{"verbs":[],"table":1}`} {
		_, err := Parse([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestBuilderImmutable(t *testing.T) {
	base := NewBuilder("T").Filter("d.x > 1")
	a := base.Derive(map[string]any{"y": "d.x * 2"})
	b := base.Select("x")

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 2, b.Len())

	qa, err := a.Query()
	require.NoError(t, err)
	qb, err := b.Query()
	require.NoError(t, err)
	assert.Equal(t, KindDerive, qa.Verbs()[1].Kind())
	assert.Equal(t, KindSelect, qb.Verbs()[1].Kind())

	p1 := base.WithParams(map[string]any{"k": 1})
	p2 := p1.WithParams(map[string]any{"k": 2, "j": 3})
	v, _ := p1.Params().Get("k")
	assert.Equal(t, 1.0, v)
	v, _ = p2.Params().Get("k")
	assert.Equal(t, 2.0, v)
	assert.Nil(t, base.Params())
}

func TestBuilderDeferredError(t *testing.T) {
	b := NewBuilder("T").Orderby(true).Filter("d.x")
	require.Error(t, b.Err())
	assert.Equal(t, 1, b.Len())

	_, err := b.Query()
	assert.Error(t, err)
	_, err = b.ToObject()
	assert.Error(t, err)
	_, err = b.ToAST()
	assert.Error(t, err)

	assert.Error(t, NewBuilder("T").WithParams(3).Err())
}

func TestBuilderJoinVariants(t *testing.T) {
	tests := []struct {
		name        string
		b           *Builder
		left, right bool
	}{
		{"left", NewBuilder("T").JoinLeft("U", "k", nil, nil), true, false},
		{"right", NewBuilder("T").JoinRight("U", "k", nil, nil), false, true},
		{"full", NewBuilder("T").JoinFull("U", "k", nil, map[string]any{"suffix": []string{"_a", "_b"}}), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.b.Query()
			require.NoError(t, err)
			j := q.Verbs()[0].(*Join)
			opts := j.Options.(Object)
			if tt.left {
				v, _ := opts.Get("left")
				assert.Equal(t, true, v)
			}
			if tt.right {
				v, _ := opts.Get("right")
				assert.Equal(t, true, v)
			}
		})
	}
}

func TestNestedQueryReference(t *testing.T) {
	sub := NewBuilder("other").Select(map[string]any{"x": "a", "y": "b"})
	b := NewBuilder("T").Concat(sub)

	obj, err := b.ToObject()
	require.NoError(t, err)
	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"verbs": [{"verb":"concat","tables":[{"verbs":[{"verb":"select","columns":[{"x":"a","y":"b"}]}],"table":"other"}]}],
		"table": "T"
	}`, string(data))

	q, err := Parse(data)
	require.NoError(t, err)
	concat := q.Verbs()[0].(*Concat)
	require.Len(t, concat.Tables, 1)
	nested, ok := concat.Tables[0].(*Query)
	require.True(t, ok)
	assert.Equal(t, "other", nested.TableName())
	assert.Equal(t, 1, nested.Len())
}

func TestQueryAST(t *testing.T) {
	b := NewBuilder("").Derive(map[string]any{"bar": "d.foo + 1"})
	ast, err := b.ToAST()
	require.NoError(t, err)
	data, err := json.Marshal(ast)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "Query",
		"verbs": [{
			"verb": "derive",
			"values": {
				"type": "Expressions",
				"values": {
					"bar": {
						"type": "BinaryExpression",
						"left": {"type": "Column", "name": "foo"},
						"operator": "+",
						"right": {"type": "Literal", "value": 1, "raw": "1"}
					}
				}
			}
		}]
	}`, string(data))
}

func TestVerbAST(t *testing.T) {
	orderby, err := NewOrderby("a", Desc("b"))
	require.NoError(t, err)
	join, err := NewJoin("other", "a.k == b.k", nil, map[string]any{"left": true})
	require.NoError(t, err)

	tests := []struct {
		name string
		verb Verb
		want string
	}{
		{"groupby", NewGroupby("a", Func("d.b % 2")), `{"verb":"groupby","keys":[
			{"type":"Column","name":"a"},
			{"type":"BinaryExpression","left":{"type":"Column","name":"b"},"operator":"%","right":{"type":"Literal","value":2,"raw":"2"}}]}`},
		{"orderby", orderby, `{"verb":"orderby","keys":[
			{"type":"Column","name":"a"},
			{"type":"Descending","expr":{"type":"Column","name":"b"}}]}`},
		{"select", NewSelect("a", 1, Not{Items: []any{"b"}}, map[string]any{"c": "cc"}), `{"verb":"select","columns":[
			{"type":"Column","name":"a"},
			{"type":"Column","index":1},
			{"type":"Selection","operator":"not","arguments":[{"type":"Column","name":"b"}]},
			{"type":"Column","name":"c","as":"cc"}]}`},
		{"sample", NewSample(5, map[string]any{"weight": "w"}), `{"verb":"sample","size":5,"options":{"weight":{"type":"Column","name":"w"}}}`},
		{"join predicate", join, `{"verb":"join","table":"other","on":{
			"type":"BinaryExpression","left":{"type":"Column","name":"k","table":1},"operator":"===",
			"right":{"type":"Column","name":"k","table":2}},"options":{"left":true}}`},
		{"rolling", NewDerive(map[string]any{"s": Rolling(Op("mean", "x"), []any{-2, nil}, false)}), `{"verb":"derive","values":{"type":"Expressions","values":{"s":{
			"type":"Window","frame":[-2,null],"peers":false,"expr":{
				"type":"CallExpression","callee":{"type":"Function","name":"mean"},
				"arguments":[{"type":"Column","name":"x"}]}}}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := VerbToAST(tt.verb)
			require.NoError(t, err)
			data, err := json.Marshal(node)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestObject(t *testing.T) {
	o := Object{}.Set("b", 1.0).Set("a", 2.0)
	assert.Equal(t, []string{"b", "a"}, o.Keys())

	o2 := o.Set("b", 3.0)
	v, _ := o.Get("b")
	assert.Equal(t, 1.0, v)
	v, _ = o2.Get("b")
	assert.Equal(t, 3.0, v)

	data, err := json.Marshal(o)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"a":2}`, string(data))

	var back Object
	require.NoError(t, json.Unmarshal([]byte(`{"z":[1,{"y":null}],"a":"s"}`), &back))
	assert.Equal(t, []string{"z", "a"}, back.Keys())
	z, _ := back.Get("z")
	assert.Equal(t, []any{1.0, Object{{Key: "y", Value: nil}}}, z)
}
