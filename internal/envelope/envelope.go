// Package envelope builds the canonical {ok, ...} response body, computes
// content tokens and maps backend failures into the error taxonomy.
package envelope

import (
	"encoding/json"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/zeventbooks/eventangle-edge/internal/errors"
)

// Envelope is either a success (OK true) or an error (OK false). Use Wrap or
// Failure to build one; the zero value is not meaningful.
type Envelope struct {
	OK          bool
	ETag        string
	Value       json.RawMessage // canonical payload; nil when NotModified
	NotModified bool
	Err         *errors.EdgeError
}

// Result is the outcome of a backend invocation.
type Result struct {
	Payload []byte
	Err     error
}

// Options tune envelope construction per request.
type Options struct {
	// Production hides internal details from error messages.
	Production bool
	CorrID     string
}

// Wrap turns a backend result into an envelope. A successful payload whose
// token matches ifNoneMatch yields a not-modified envelope without a value.
// A payload that is not valid JSON is a contract violation.
func Wrap(res Result, ifNoneMatch string, opts Options) Envelope {
	if res.Err != nil {
		return Failure(res.Err, opts)
	}

	payload := res.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	canonical, err := Canonical(payload)
	if err != nil {
		return Failure(errors.Contract("payload", err), opts)
	}
	tag := etagOf(canonical)

	if MatchToken(ifNoneMatch, tag) {
		return Envelope{OK: true, ETag: tag, NotModified: true}
	}
	return Envelope{OK: true, ETag: tag, Value: canonical}
}

// Failure builds an error envelope from any error.
func Failure(err error, opts Options) Envelope {
	return Envelope{Err: MapError(err, opts)}
}

// Status is the HTTP status the envelope is written with.
func (e Envelope) Status() int {
	if e.OK {
		return http.StatusOK
	}
	return e.Err.Status()
}

// Bytes encodes the envelope. Success bodies are assembled around the raw
// canonical payload so it is never re-encoded.
func (e Envelope) Bytes() ([]byte, error) {
	if !e.OK {
		return json.Marshal(struct {
			OK bool `json:"ok"`
			*errors.EdgeError
		}{false, e.Err})
	}

	body := []byte(`{"ok":true}`)
	var err error
	if e.ETag != "" {
		if body, err = sjson.SetBytes(body, "etag", e.ETag); err != nil {
			return nil, err
		}
	}
	if e.NotModified {
		return sjson.SetBytes(body, "notModified", true)
	}
	if e.Value != nil {
		return sjson.SetRawBytes(body, "value", e.Value)
	}
	return body, nil
}
