package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	goGuard "github.com/MrEthical07/goGuard"
)

var errBodyTooLarge = errors.New("request body too large")

type bodyContextKey struct{}

// Body is a request body read once by the pipeline.
type Body struct {
	raw []byte

	once   sync.Once
	fields map[string]json.RawMessage
}

// BodyFromContext returns the buffered body. Requests without one yield a
// nil *Body, whose methods are safe to call.
func BodyFromContext(ctx context.Context) (*Body, bool) {
	b, ok := ctx.Value(bodyContextKey{}).(*Body)
	return b, ok
}

// Bytes returns the raw body.
func (b *Body) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.raw
}

// Field returns a top-level string field of a JSON object body, or "" when
// the body is not a JSON object or the field is missing or not a string.
func (b *Body) Field(name string) string {
	if b == nil {
		return ""
	}
	b.once.Do(func() {
		if err := json.Unmarshal(b.raw, &b.fields); err != nil {
			b.fields = nil
		}
	})
	raw, ok := b.fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Decode unmarshals the body into v.
func (b *Body) Decode(v any) error {
	if b == nil || len(b.raw) == 0 {
		return io.EOF
	}
	return json.Unmarshal(b.raw, v)
}

func (p *Pipeline) bufferBody(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return r, nil
	}
	if r.Body == nil {
		return r, nil
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.maxBody))
	_ = r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return r, errBodyTooLarge
		}
		return r, fmt.Errorf("%w: read body: %v", goGuard.ErrValidation, err)
	}

	r.Body = io.NopCloser(bytes.NewReader(raw))
	ctx := context.WithValue(r.Context(), bodyContextKey{}, &Body{raw: raw})
	return r.WithContext(ctx), nil
}
