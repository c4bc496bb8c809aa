package wire

import (
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/json"
)

const maxCompactLen = 512

var jsonMinifier = func() *minify.M {
	m := minify.New()
	m.AddFunc("application/json", json.Minify)
	return m
}()

// Compact renders a payload for diagnostics: whitespace is stripped when the
// input is valid JSON and the result is truncated to a log-friendly length.
func Compact(raw []byte) string {
	out, err := jsonMinifier.Bytes("application/json", raw)
	if err != nil {
		out = raw
	}
	if len(out) > maxCompactLen {
		return string(out[:maxCompactLen]) + "...(truncated)"
	}
	return string(out)
}
