package frame

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxBytes is the default maximum size of one encoded frame,
// including base64 overhead on the body.
const DefaultMaxBytes = 16 << 20 // 16 MiB

// Sentinel errors for malformed-wire conditions. Use errors.Is against
// these, not string matching.
var (
	ErrMalformedFrame = errors.New("frame: malformed envelope")
	ErrUnknownType    = errors.New("frame: unknown type")
	ErrFieldMissing   = errors.New("frame: required field missing")
	ErrFrameTooLarge  = errors.New("frame: exceeds maximum size")
)

// wire is the JSON envelope. Unknown fields are ignored by
// encoding/json by default, so older and newer peers can exchange
// frames without choking on fields they don't recognize.
type wire struct {
	Type      Type       `json:"type"`
	AuthToken string     `json:"auth_token,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	Message   string     `json:"message,omitempty"`
	ID        string     `json:"id,omitempty"`
	Method    string     `json:"method,omitempty"`
	Path      string     `json:"path,omitempty"`
	Query     string     `json:"query,omitempty"`
	Status    int        `json:"status,omitempty"`
	Headers   [][2]string `json:"headers,omitempty"`
	BodyB64   string     `json:"body_b64,omitempty"`
	Tag       int64      `json:"t,omitempty"`
}

// Encode marshals f to its wire form, enforcing maxBytes. Pass
// DefaultMaxBytes when the caller has no configured override.
func Encode(f *Frame, maxBytes int) ([]byte, error) {
	if err := validate(f); err != nil {
		return nil, err
	}

	w := wire{
		Type:      f.Type,
		AuthToken: f.AuthToken,
		Kind:      f.Kind,
		Message:   f.Message,
		ID:        f.ID,
		Method:    f.Method,
		Path:      f.Path,
		Query:     f.Query,
		Status:    f.Status,
		Tag:       f.Tag,
	}
	if len(f.Body) > 0 {
		w.BodyB64 = base64.StdEncoding.EncodeToString(f.Body)
	}
	if len(f.Headers) > 0 {
		w.Headers = make([][2]string, len(f.Headers))
		for i, h := range f.Headers {
			w.Headers[i] = [2]string{h.Key, h.Value}
		}
	}

	data, err := json.Marshal(&w)
	if err != nil {
		return nil, fmt.Errorf("frame: encode: %w", err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, ErrFrameTooLarge
	}
	return data, nil
}

// Decode parses raw wire bytes into a Frame, enforcing maxBytes
// before even attempting to unmarshal.
func Decode(data []byte, maxBytes int) (*Frame, error) {
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, ErrFrameTooLarge
	}

	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	f := &Frame{
		Type:      w.Type,
		AuthToken: w.AuthToken,
		Kind:      w.Kind,
		Message:   w.Message,
		ID:        w.ID,
		Method:    w.Method,
		Path:      w.Path,
		Query:     w.Query,
		Status:    w.Status,
		Tag:       w.Tag,
	}
	if w.BodyB64 != "" {
		body, err := base64.StdEncoding.DecodeString(w.BodyB64)
		if err != nil {
			return nil, fmt.Errorf("%w: body_b64: %v", ErrMalformedFrame, err)
		}
		f.Body = body
	}
	if len(w.Headers) > 0 {
		f.Headers = make([]Header, len(w.Headers))
		for i, kv := range w.Headers {
			f.Headers[i] = Header{Key: kv[0], Value: kv[1]}
		}
	}

	if err := validate(f); err != nil {
		return nil, err
	}
	return f, nil
}

// validate checks that the required fields for f.Type are present.
func validate(f *Frame) error {
	switch f.Type {
	case TypeAttach:
		if f.AuthToken == "" {
			return fmt.Errorf("%w: attach requires auth_token", ErrFieldMissing)
		}
	case TypeAck:
		// no required fields
	case TypeError:
		if f.Kind == "" {
			return fmt.Errorf("%w: error requires kind", ErrFieldMissing)
		}
	case TypeRequest:
		if f.ID == "" || f.Method == "" {
			return fmt.Errorf("%w: request requires id and method", ErrFieldMissing)
		}
	case TypeResponse:
		if f.ID == "" {
			return fmt.Errorf("%w: response requires id", ErrFieldMissing)
		}
	case TypePing, TypePong:
		// tag is optional (defaults to zero)
	case TypeClose:
		if f.Kind == "" {
			return fmt.Errorf("%w: close requires kind", ErrFieldMissing)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	return nil
}
