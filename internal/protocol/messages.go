// Package protocol defines the wire contract between the console and the
// backend SQL service: the tagged union of server frames arriving over the
// websocket, and the execute request sent the other way.
package protocol

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Reserved column names attached by the server to subscribe-style results.
// They carry progress metadata rather than query output and are stripped
// before rows are shown.
const (
	ColTimestamp  = "rs_timestamp"
	ColProgressed = "rs_progressed"
	ColDiff       = "rs_diff"
)

// ReservedColumns lists every metadata column a subscribe result may carry.
var ReservedColumns = []string{ColTimestamp, ColProgressed, ColDiff}

// SQLSTATE reported by the server when a statement is canceled by an
// out-of-band cancel request.
const CodeQueryCanceled = "57014"

// Message is a server frame. Each variant is named by the "type"
// discriminator of its JSON envelope.
type Message interface {
	messageType() string
}

// Column describes one column of a row-producing statement.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// BackendKeyData identifies the server-side connection, used to address
// out-of-band cancel requests.
type BackendKeyData struct {
	ConnID string `json:"conn_id"`
}

// ReadyForQuery signals the server is idle and can accept a new command.
type ReadyForQuery struct{}

// CommandStarting announces execution of the next statement and whether it
// will produce rows and/or stream indefinitely.
type CommandStarting struct {
	IsStreaming bool `json:"is_streaming"`
	HasRows     bool `json:"has_rows"`
}

// Rows announces the column schema of the current statement's result.
type Rows struct {
	Columns []Column `json:"columns"`
}

// Row carries one row of values for the current statement.
type Row struct {
	Row []any `json:"row"`
}

// CommandComplete carries the server's textual completion tag.
type CommandComplete struct {
	Payload string `json:"payload"`
}

// Notice is an advisory message from the server.
type Notice struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Detail   string `json:"detail,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Code     string `json:"code,omitempty"`
}

// ParameterStatus reports the current value of a session parameter.
type ParameterStatus struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Error reports a statement or session error.
type Error struct {
	Message  string `json:"message"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Position *int   `json:"position,omitempty"`
}

// Canceled reports whether the error is the server acknowledging an
// out-of-band cancel request rather than a genuine failure.
func (e *Error) Canceled() bool {
	return e.Code == CodeQueryCanceled
}

func (*BackendKeyData) messageType() string  { return "BackendKeyData" }
func (*ReadyForQuery) messageType() string   { return "ReadyForQuery" }
func (*CommandStarting) messageType() string { return "CommandStarting" }
func (*Rows) messageType() string            { return "Rows" }
func (*Row) messageType() string             { return "Row" }
func (*CommandComplete) messageType() string { return "CommandComplete" }
func (*Notice) messageType() string          { return "Notice" }
func (*ParameterStatus) messageType() string { return "ParameterStatus" }
func (*Error) messageType() string           { return "Error" }

// envelope is the outer JSON frame: {"type": "...", "payload": ...}.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses one server frame into its typed variant.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decoding frame envelope")
	}

	var msg Message
	switch env.Type {
	case "BackendKeyData":
		msg = &BackendKeyData{}
	case "ReadyForQuery":
		return &ReadyForQuery{}, nil
	case "CommandStarting":
		msg = &CommandStarting{}
	case "Rows":
		msg = &Rows{}
	case "Row":
		// The payload of a Row frame is the bare value array.
		var r Row
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &r.Row); err != nil {
				return nil, errors.Wrap(err, "decoding row payload")
			}
		}
		return &r, nil
	case "CommandComplete":
		// The payload is the bare completion tag string.
		var c CommandComplete
		if len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, &c.Payload); err != nil {
				return nil, errors.Wrap(err, "decoding completion payload")
			}
		}
		return &c, nil
	case "Notice":
		msg = &Notice{}
	case "ParameterStatus":
		msg = &ParameterStatus{}
	case "Error":
		msg = &Error{}
	default:
		return nil, errors.Newf("unknown frame type %q", env.Type)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, errors.Wrapf(err, "decoding %s payload", env.Type)
		}
	}
	return msg, nil
}
