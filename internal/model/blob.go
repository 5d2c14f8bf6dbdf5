package model

// Blob is an in-memory media payload with its MIME type.
type Blob struct {
	Data        []byte
	ContentType string
}

// Size returns the payload length in bytes.
func (b Blob) Size() int {
	return len(b.Data)
}

// Empty reports whether the blob carries no bytes.
func (b Blob) Empty() bool {
	return len(b.Data) == 0
}
