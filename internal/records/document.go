package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"maps"
	"time"
)

// ErrNotObject is returned when a document is valid JSON but not an object.
var ErrNotObject = errors.New("document must be a JSON object")

// Document is a schema-less record body as submitted by a client.
type Document map[string]any

// DecodeDocument parses raw as a JSON object. Numbers are kept as
// json.Number so they survive a round trip unchanged.
func DecodeDocument(raw []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("document has trailing data")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return Document(obj), nil
}

// String returns field as a string. Strings are returned as is and numbers in
// their JSON form. Anything else, including a missing field, yields "".
func (d Document) String(field string) string {
	switch v := d[field].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// With returns a shallow copy of d with fields set on top.
func (d Document) With(fields map[string]any) Document {
	out := make(Document, len(d)+len(fields))
	maps.Copy(out, d)
	maps.Copy(out, fields)
	return out
}

// Marshal encodes d for storage.
func (d Document) Marshal() (json.RawMessage, error) {
	return json.Marshal(d)
}

// Timestamp formats t the way stored documents carry times: UTC with
// millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
