// Package jsonutil formats values for printing in terminal.
package jsonutil

import (
	"bytes"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var compact *prettyjson.Formatter

func init() {
	compact = prettyjson.NewFormatter()
	compact.Indent = 0
	compact.Newline = ""
}

// MarshalPretty formats the value as indented JSON with color information.
func MarshalPretty(v any) ([]byte, error) {
	return prettyjson.Marshal(v)
}

// MarshalCompactPretty formats each field of struct v on its own line as "Name: value".
// Fields are printed in declaration order. Values that are not structs are formatted with MarshalPretty.
func MarshalCompactPretty(v any) ([]byte, error) {
	if !structs.IsStruct(v) {
		return MarshalPretty(v)
	}
	var buf bytes.Buffer
	m := structs.Map(v)
	for _, name := range structs.Names(v) {
		val, ok := m[name]
		if !ok {
			continue
		}
		b, err := compact.Marshal(val)
		if err != nil {
			return nil, err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}
