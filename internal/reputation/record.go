package reputation

import "context"

// Comment is attached to every record produced from the SIEM feed.
const Comment = "from Proofpoint"

// Hashes identifies the file a record describes.
type Hashes struct {
	MD5    string `json:"md5"`
	SHA256 string `json:"sha256"`
}

// Record is one file reputation.
type Record struct {
	TrustLevel TrustLevel `json:"trustLevel"`
	FileName   string     `json:"fileName"`
	Comment    string     `json:"comment"`
	Hashes     Hashes     `json:"hashes"`
}

// EmitFunc receives records as they are extracted. Returning an error stops
// extraction.
type EmitFunc func(ctx context.Context, rec Record) error

// Sink consumes extracted records.
type Sink interface {
	Emit(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

func (f SinkFunc) Emit(ctx context.Context, rec Record) error { return f(ctx, rec) }
