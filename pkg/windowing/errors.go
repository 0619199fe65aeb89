package windowing

import "fmt"

// EmissionError reports a malformed emission payload. It is a
// configuration error, reported immediately and never retried.
type EmissionError struct {
	Payload interface{}
}

func (e *EmissionError) Error() string {
	return fmt.Sprintf("emission payload must be a record or a sequence of records, got %T", e.Payload)
}
