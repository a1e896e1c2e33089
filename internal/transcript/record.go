package transcript

import (
	"encoding/json"
	"io"
)

// ErrorRecord reports a failure that happened before a model was invoked.
type ErrorRecord struct {
	Error string `json:"error"`
}

// Encode writes v as indented JSON followed by a newline. Non-ASCII text and
// HTML characters are written as-is.
func Encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func WriteResult(w io.Writer, r Result) error {
	return Encode(w, r.Record())
}

func WriteError(w io.Writer, message string) error {
	return Encode(w, ErrorRecord{Error: message})
}
