package dsl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOptionTokens(t *testing.T) {
	got := splitOptionTokens(`status, notnull, domain=[open, done], default='a, b', range=[0,10]`)
	assert.Equal(t, []string{"status", "notnull", "domain=[open, done]", "default='a, b'", "range=[0,10]"}, got)
}

func TestParseTag(t *testing.T) {
	spec, err := parseTag(`age, sentinel=-1, range=[0,150], required`)
	require.NoError(t, err)
	assert.Equal(t, "age", spec.Column)
	assert.Equal(t, "-1", spec.Options["sentinel"])
	assert.Equal(t, "[0,150]", spec.Options["range"])
	assert.True(t, spec.has("notnull"), "required is an alias of notnull")

	spec, err = parseTag(",pk,auto")
	require.NoError(t, err)
	assert.Empty(t, spec.Column)
	assert.True(t, spec.has("pk"))
	assert.True(t, spec.has("auto"))

	spec, err = parseTag("-")
	require.NoError(t, err)
	assert.True(t, spec.Skip)
}

func TestParseTag_Errors(t *testing.T) {
	_, err := parseTag("name,bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown option")

	_, err = parseTag("name,colour=red")
	require.Error(t, err)

	_, err = parseTag("first name")
	require.Error(t, err)
}

func TestParseList(t *testing.T) {
	got, err := parseList(`[a, 'b c', "d"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b c", "d"}, got)

	_, err = parseList("a,b")
	require.Error(t, err)
	_, err = parseList("[]")
	require.Error(t, err)
}

func TestParseRange(t *testing.T) {
	rg, err := parseRange("[ -5 , 2.5 ]")
	require.NoError(t, err)
	assert.Equal(t, Range{Low: -5, High: 2.5}, *rg)

	_, err = parseRange("[3,1]")
	require.Error(t, err)
	_, err = parseRange("[x,1]")
	require.Error(t, err)
}

func TestParseLiteral(t *testing.T) {
	v, err := ParseLiteral(KindInt, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = ParseLiteral(KindFloat, "1.5")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	v, err = ParseLiteral(KindDate, "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), v)

	_, err = ParseLiteral(KindInt, "x")
	require.Error(t, err)
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Name":      "name",
		"CreatedAt": "created_at",
		"ManagerID": "manager_id",
		"HTTPCode":  "http_code",
		"ID":        "id",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}
