package jsonutil

import (
	"strings"
	"testing"

	"github.com/hokaccha/go-prettyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCompactPretty(t *testing.T) {
	compact.DisabledColor = true
	defer func() { compact.DisabledColor = false }()

	v := struct {
		Name   string
		Pieces int
		Hidden string `structs:"-"`
	}{"file.bin", 3, "x"}
	b, err := MarshalCompactPretty(v)
	require.NoError(t, err)
	assert.Equal(t, "Name: \"file.bin\"\nPieces: 3\n", string(b))
}

func TestMarshalCompactPrettyNotStruct(t *testing.T) {
	b, err := MarshalCompactPretty(map[string]int{"a": 1})
	require.NoError(t, err)
	expected, err := prettyjson.Marshal(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, expected, b)
	assert.True(t, strings.Contains(string(b), "a"))
}
