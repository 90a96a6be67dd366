// internal/domain/envelope.go
package domain

// Envelope is the uniform wrapper for inline (non-queued) operations.
type Envelope struct {
	Status TaskState `json:"status"`
	Result any       `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`

	// Kind classifies a FAILURE. It is not part of the wire format.
	Kind ErrorKind `json:"-"`
}

// Succeeded reports whether the envelope carries a result.
func (e Envelope) Succeeded() bool {
	return e.Status == TaskStateSuccess
}
