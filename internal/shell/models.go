// Package shell implements the session protocol core: the command output
// model accumulated during execution and the state machine that drives it
// from the server's message stream.
package shell

import (
	"time"

	"github.com/rillstream/console/internal/protocol"
)

// CommandOutput is the record accumulated for one submitted command, which
// may contain several semicolon-separated statements.
type CommandOutput struct {
	HistoryID       string
	Command         string
	Statements      []string
	CommandSentTime time.Time

	// One entry per statement, appended lazily as the server finishes the
	// previous one. Never longer than Statements.
	CommandResults []*CommandResult

	// Session-level error not tied to a specific result.
	Error *protocol.Error
}

// CurrentResult returns the result currently receiving events, or nil if
// none is open.
func (o *CommandOutput) CurrentResult() *CommandResult {
	if o == nil || len(o.CommandResults) == 0 {
		return nil
	}
	return o.CommandResults[len(o.CommandResults)-1]
}

// Clone returns a deep copy safe to hand to consumers while the machine
// keeps mutating the original.
func (o *CommandOutput) Clone() *CommandOutput {
	if o == nil {
		return nil
	}
	clone := &CommandOutput{
		HistoryID:       o.HistoryID,
		Command:         o.Command,
		Statements:      append([]string(nil), o.Statements...),
		CommandSentTime: o.CommandSentTime,
	}
	if o.Error != nil {
		e := *o.Error
		clone.Error = &e
	}
	if o.CommandResults != nil {
		clone.CommandResults = make([]*CommandResult, len(o.CommandResults))
		for i, r := range o.CommandResults {
			clone.CommandResults[i] = r.Clone()
		}
	}
	return clone
}

// CommandResult accumulates the server's events for a single statement.
type CommandResult struct {
	// Nil until the server announces whether the statement produces rows.
	HasRows *bool

	// Whether this is a long-lived streaming operation (e.g. SUBSCRIBE)
	// rather than a bounded query.
	IsStreaming bool

	// Column metadata, set once when the row schema is announced.
	Cols []protocol.Column

	// Nil until the statement is known to produce rows; grows as rows
	// arrive.
	Rows [][]any

	Notices []protocol.Notice

	// The server's textual completion tag, e.g. "SELECT 5".
	CommandCompletePayload string

	// Zero until the result is finalized by completion or error. Once set
	// the result is immutable.
	EndTime time.Time
}

// Finalized reports whether the result has been closed by completion or
// error.
func (r *CommandResult) Finalized() bool {
	return r != nil && !r.EndTime.IsZero()
}

// Clone returns a deep copy of the result.
func (r *CommandResult) Clone() *CommandResult {
	if r == nil {
		return nil
	}
	clone := &CommandResult{
		IsStreaming:            r.IsStreaming,
		CommandCompletePayload: r.CommandCompletePayload,
		EndTime:                r.EndTime,
	}
	if r.HasRows != nil {
		v := *r.HasRows
		clone.HasRows = &v
	}
	if r.Cols != nil {
		clone.Cols = append([]protocol.Column(nil), r.Cols...)
	}
	if r.Rows != nil {
		clone.Rows = make([][]any, len(r.Rows))
		for i, row := range r.Rows {
			clone.Rows[i] = append([]any(nil), row...)
		}
	}
	if r.Notices != nil {
		clone.Notices = append([]protocol.Notice(nil), r.Notices...)
	}
	return clone
}

func boolPtr(v bool) *bool { return &v }
