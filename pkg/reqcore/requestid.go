package reqcore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// GenerateRequestID returns "req_" followed by 16 random hex chars, falling
// back to a timestamp-based id if the system RNG is unavailable.
func GenerateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

// GenerateUUIDRequestID returns an RFC 4122 v4 request id, for callers
// that want request ids consistent with IDs generated elsewhere in their
// stack. Pass it to WithRequestIDGenerator to use it in place of the
// default hex-based GenerateRequestID.
func GenerateUUIDRequestID() string {
	return "req_" + uuid.NewString()
}

// WithRequestID attaches id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext extracts a request id previously attached with
// WithRequestID, returning "" if none is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
