package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsJSONRoundTripPreservesOrder(t *testing.T) {
	src := `{"zeta":"z","alpha":1.5,"nested":{"b":true,"a":null},"list":[1,2]}`

	f := NewFields()
	require.NoError(t, f.UnmarshalJSON([]byte(src)))
	assert.Equal(t, []string{"zeta", "alpha", "nested", "list"}, f.Keys())

	out, err := f.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, src, string(out))
}

func TestFieldsSetGetDelete(t *testing.T) {
	f := NewFields()
	f.Set("a", StringValue("1"))
	f.Set("b", NumberValue(2))
	f.Set("a", StringValue("updated")) // no key reorder

	assert.Equal(t, []string{"a", "b"}, f.Keys())
	v, ok := f.Get("a")
	require.True(t, ok)
	assert.Equal(t, "updated", v.Str)

	f.Delete("a")
	assert.Equal(t, []string{"b"}, f.Keys())
	_, ok = f.Get("a")
	assert.False(t, ok)
}

func TestFieldsEqualIncludesOrder(t *testing.T) {
	a := NewFields()
	a.Set("x", StringValue("1"))
	a.Set("y", StringValue("2"))

	b := NewFields()
	b.Set("y", StringValue("2"))
	b.Set("x", StringValue("1"))

	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(a.Clone()))
}

func TestCloneIsDeep(t *testing.T) {
	inner := NewFields()
	inner.Set("city", StringValue("Quito"))
	f := NewFields()
	f.Set("detail", ObjectValue(inner))

	c := f.Clone()
	inner.Set("city", StringValue("Cuenca"))

	v, _ := c.Get("detail")
	got, _ := v.Obj.Get("city")
	assert.Equal(t, "Quito", got.Str)
}

func TestSetPath(t *testing.T) {
	f := NewFields()
	f.Set("fecha", StringValue("bad"))

	f.SetPath("fecha", StringValue("2024-01-01"))
	f.SetPath("detalle.ciudad", StringValue("Quito"))
	// non-object intermediate gets replaced
	f.SetPath("fecha.sub", StringValue("x"))

	v, _ := f.Get("detalle")
	require.Equal(t, KindObject, v.Kind)
	city, ok := v.Obj.Get("ciudad")
	require.True(t, ok)
	assert.Equal(t, "Quito", city.Str)

	v, _ = f.Get("fecha")
	require.Equal(t, KindObject, v.Kind)
	sub, ok := v.Obj.Get("sub")
	require.True(t, ok)
	assert.Equal(t, "x", sub.Str)
}

func TestFlatten(t *testing.T) {
	nested := NewFields()
	nested.Set("ciudad", StringValue("Quito"))
	nested.Set("zona", StringValue("norte"))

	f := NewFields()
	f.Set("expediente", StringValue("EXP-1"))
	f.Set("detalle", ObjectValue(nested))
	f.Set("unico", ArrayValue(StringValue("solo")))
	f.Set("varios", ArrayValue(NumberValue(1), NumberValue(2)))

	flat := f.Flatten()
	paths := make([]string, len(flat))
	for i, ff := range flat {
		paths[i] = ff.Path
	}
	// single-element arrays inline, multi-element arrays index
	assert.Equal(t, []string{
		"expediente", "detalle.ciudad", "detalle.zona", "unico",
		"varios.0", "varios.1",
	}, paths)
	assert.Equal(t, "solo", flat[3].Value.Str)
}

func TestValueRender(t *testing.T) {
	assert.Equal(t, "", NullValue().Render())
	assert.Equal(t, "texto", StringValue("texto").Render())
	assert.Equal(t, "1500.5", NumberValue(1500.5).Render())
	assert.Equal(t, "42", NumberValue(42).Render())
	assert.Equal(t, "true", BoolValue(true).Render())
}

func TestUnmarshalRejectsNonObject(t *testing.T) {
	f := NewFields()
	assert.Error(t, f.UnmarshalJSON([]byte(`[1,2,3]`)))
	assert.Error(t, f.UnmarshalJSON([]byte(`"text"`)))
}

func TestDetailFor(t *testing.T) {
	_, err := DetailFor(StatusRejected, StatusDetail{})
	assert.Error(t, err)

	d, err := DetailFor(StatusRejected, StatusDetail{Rejected: &RejectedDetail{Reason: "r"}})
	require.NoError(t, err)
	assert.Equal(t, "r", d.Rejected.Reason)

	// detail from another status never leaks through
	d, err = DetailFor(StatusValid, StatusDetail{Rejected: &RejectedDetail{Reason: "stale"}})
	require.NoError(t, err)
	assert.Nil(t, d.Rejected)
}
