package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShotPrompts_ArrayInput(t *testing.T) {
	in := []interface{}{" a sunrise ", "", "a door closing", 42, "  "}
	got := ParseShotPrompts(in)
	assert.Equal(t, []string{"a sunrise", "a door closing"}, got)
}

func TestParseShotPrompts_StringArray(t *testing.T) {
	got := ParseShotPrompts([]string{"a", " b ", ""})
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestParseShotPrompts_JSONString(t *testing.T) {
	got := ParseShotPrompts(`["a","b"]`)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestParseShotPrompts_TrailingCommaRepair(t *testing.T) {
	got := ParseShotPrompts(`["a","b",]`)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestParseShotPrompts_ObjectWithShotsArray(t *testing.T) {
	got := ParseShotPrompts(`{"shots": ["x", "y"]}`)
	assert.Equal(t, []string{"x", "y"}, got)
}

func TestParseShotPrompts_DoubleEncodedShots(t *testing.T) {
	got := ParseShotPrompts(`{"shots": "[\"a\",\"b\"]"}`)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestParseShotPrompts_DoubleEncodedWithLiteralNewline(t *testing.T) {
	// The inner encoded array contains a raw newline inside a string
	// literal, so both the outer and inner documents need fixing up.
	payload := "{\"shots\": \"[\\\"first line\nsecond\\\",\\\"b\\\"]\"}"
	got := ParseShotPrompts(payload)
	require.Len(t, got, 2)
	assert.Equal(t, "first line\nsecond", got[0])
	assert.Equal(t, "b", got[1])
}

func TestParseShotPrompts_ShotMarkers(t *testing.T) {
	got := ParseShotPrompts("Shot 1: A sunrise.\n\nShot 2: A door closing.")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "sunrise")
	assert.Contains(t, got[1], "door closing")
}

func TestParseShotPrompts_SceneMarkers(t *testing.T) {
	got := ParseShotPrompts("Scene 1\nA field.\nScene 2\nA storm.")
	require.Len(t, got, 2)
	assert.Contains(t, got[0], "field")
	assert.Contains(t, got[1], "storm")
}

func TestParseShotPrompts_BlankLineFallback(t *testing.T) {
	got := ParseShotPrompts("a red bird\n\nlearns to fly")
	assert.Equal(t, []string{"a red bird", "learns to fly"}, got)
}

func TestSplitBlankLines_Idempotent(t *testing.T) {
	first := splitBlankLines("one\n\ntwo\n \nthree")
	require.Equal(t, []string{"one", "two", "three"}, first)
	for _, segment := range first {
		assert.Equal(t, []string{segment}, splitBlankLines(segment))
	}
}

func TestParseShotPrompts_EmptyArrayForms(t *testing.T) {
	// An empty parsed array must come back empty, never as the raw JSON
	// text pretending to be a prompt.
	assert.Empty(t, ParseShotPrompts("[]"))
	assert.Empty(t, ParseShotPrompts(`{"shots": []}`))
	assert.Empty(t, ParseShotPrompts(`{"shots": "[]"}`))
	assert.Empty(t, ParseShotPrompts(`["", "  "]`))
}

func TestParseShotPrompts_UnusableInput(t *testing.T) {
	assert.Empty(t, ParseShotPrompts(nil))
	assert.Empty(t, ParseShotPrompts(42))
	assert.Empty(t, ParseShotPrompts(""))
	assert.Empty(t, ParseShotPrompts(map[string]interface{}{"foo": "bar"}))
}

func TestParseShotPrompts_MalformedJSONDegradesToBlankLines(t *testing.T) {
	// Looks like JSON but cannot be repaired; blank-line split still
	// salvages something.
	got := ParseShotPrompts("{not json at all\n\nsecond block")
	assert.Equal(t, []string{"{not json at all", "second block"}, got)
}

func TestRepairJSON(t *testing.T) {
	assert.Equal(t, `["a","b"]`, repairJSON(`["a","b",]`))
	assert.Equal(t, `{"k":"v"}`, repairJSON(`{"k":"v",}`))
	assert.Equal(t, "[\"a\\nb\"]", repairJSON("[\"a\nb\"]"))
	// commas inside strings survive
	assert.Equal(t, `["a,]"]`, repairJSON(`["a,]"]`))
}

func TestFixPromptArtifacts(t *testing.T) {
	assert.Equal(t, `["Shot 1: x"]`, fixPromptArtifacts(`[""Shot 1: x"]`))
	assert.Equal(t, "[\"line\\ntwo\"]", fixPromptArtifacts("[\"line\ntwo\"]"))
}
