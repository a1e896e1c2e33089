package cli

import "fmt"

// usageError is returned when the audio file argument is missing.
type usageError struct {
	use string
}

func (e *usageError) Error() string {
	return "Usage: " + e.use
}

type fileNotFoundError struct {
	path string
	err  error
}

func (e *fileNotFoundError) Error() string {
	return fmt.Sprintf("File not found: %s", e.path)
}

func (e *fileNotFoundError) Unwrap() error {
	return e.err
}
