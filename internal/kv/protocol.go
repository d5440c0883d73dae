package kv

import "encoding/json"

// JSON protocol for the kv-server daemon over a Unix domain socket.
// One request -> one response per connection.

const (
	opGet        = "get"
	opGetMany    = "mget"
	opSet        = "set"
	opSetMany    = "mset"
	opDelete     = "delete"
	opDeleteMany = "mdelete"
	opScan       = "scan"
)

// Error codes carried in Response.Code.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeUnavailable     = "unavailable"
)

type Request struct {
	Op      string          `json:"op"`
	Key     string          `json:"key,omitempty"`
	Keys    []string        `json:"keys,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Entries []Entry         `json:"entries,omitempty"`
	Prefix  string          `json:"prefix,omitempty"`
}

type Response struct {
	OK    bool            `json:"ok"`
	Found bool            `json:"found,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	// Values and Present hold one slot per requested key.
	Values  []json.RawMessage `json:"values,omitempty"`
	Present []bool            `json:"present,omitempty"`
	Entries []Entry           `json:"entries,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    string            `json:"code,omitempty"`
}
