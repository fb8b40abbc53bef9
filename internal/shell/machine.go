package shell

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rillstream/console/internal/protocol"
)

// State identifies where the machine is in the command lifecycle.
type State int

const (
	StateInitial State = iota
	StateReadyForQuery
	StateCommandSent
	StateCommandInProgressDefault
	StateCommandInProgressHasRows
	StateCommandInProgressStreaming
	// StateStopped is terminal: entered when the transport closes. No
	// further transitions are taken.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateReadyForQuery:
		return "readyForQuery"
	case StateCommandSent:
		return "commandSent"
	case StateCommandInProgressDefault:
		return "commandInProgressDefault"
	case StateCommandInProgressHasRows:
		return "commandInProgressHasRows"
	case StateCommandInProgressStreaming:
		return "commandInProgressStreaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type eventKind int

const (
	eventReadyForQuery eventKind = iota
	eventSend
	eventCommandStartingDefault
	eventCommandStartingHasRows
	eventCommandStartingStreaming
	eventRows
	eventRow
	eventNotice
	eventError
	eventCommandComplete
)

func (k eventKind) String() string {
	switch k {
	case eventReadyForQuery:
		return "READY_FOR_QUERY"
	case eventSend:
		return "SEND"
	case eventCommandStartingDefault:
		return "COMMAND_STARTING_DEFAULT"
	case eventCommandStartingHasRows:
		return "COMMAND_STARTING_HAS_ROWS"
	case eventCommandStartingStreaming:
		return "COMMAND_STARTING_IS_STREAMING"
	case eventRows:
		return "ROWS"
	case eventRow:
		return "ROW"
	case eventNotice:
		return "NOTICE"
	case eventError:
		return "ERROR"
	case eventCommandComplete:
		return "COMMAND_COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Event is one input to the machine.
type Event interface {
	kind() eventKind
}

// ReadyForQueryEvent signals the server is idle again.
type ReadyForQueryEvent struct{}

// SendEvent records submission of a new command.
type SendEvent struct {
	HistoryID  string
	Command    string
	Statements []string
}

// CommandStartingDefaultEvent: the next statement produces no rows.
type CommandStartingDefaultEvent struct{}

// CommandStartingHasRowsEvent: the next statement produces a bounded row set.
type CommandStartingHasRowsEvent struct{}

// CommandStartingStreamingEvent: the next statement is a long-lived
// streaming operation.
type CommandStartingStreamingEvent struct {
	HasRows bool
}

// RowsEvent announces the column schema.
type RowsEvent struct {
	Columns []protocol.Column
}

// RowEvent carries one row of values.
type RowEvent struct {
	Row []any
}

// NoticeEvent carries an advisory message for the current result.
type NoticeEvent struct {
	Notice protocol.Notice
}

// ErrorEvent carries a statement or session error.
type ErrorEvent struct {
	Err protocol.Error
}

// CommandCompleteEvent finalizes the current statement's result.
type CommandCompleteEvent struct {
	Payload string
}

func (ReadyForQueryEvent) kind() eventKind            { return eventReadyForQuery }
func (SendEvent) kind() eventKind                     { return eventSend }
func (CommandStartingDefaultEvent) kind() eventKind   { return eventCommandStartingDefault }
func (CommandStartingHasRowsEvent) kind() eventKind   { return eventCommandStartingHasRows }
func (CommandStartingStreamingEvent) kind() eventKind { return eventCommandStartingStreaming }
func (RowsEvent) kind() eventKind                     { return eventRows }
func (RowEvent) kind() eventKind                      { return eventRow }
func (NoticeEvent) kind() eventKind                   { return eventNotice }
func (ErrorEvent) kind() eventKind                    { return eventError }
func (CommandCompleteEvent) kind() eventKind          { return eventCommandComplete }

// ViolationReporter receives events that arrived in a state with no
// transition defined for them. Losing the session is worse than logging and
// continuing, so violations are reported, never panicked on.
type ViolationReporter interface {
	ReportViolation(state State, ev Event)
}

type logReporter struct {
	log logrus.FieldLogger
}

func (r logReporter) ReportViolation(state State, ev Event) {
	r.log.WithFields(logrus.Fields{
		"state": state.String(),
		"event": ev.kind().String(),
	}).Error("protocol violation: unhandled event for state")
}

// Machine is the session protocol state machine. It is synchronous and must
// only be driven by one goroutine: the owner of the connection's message
// stream. Consumers never read the live context; they get clones via
// Snapshot or take ownership via Finalize.
type Machine struct {
	state    State
	output   *CommandOutput
	now      func() time.Time
	reporter ViolationReporter
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithReporter overrides the violation sink.
func WithReporter(r ViolationReporter) Option {
	return func(m *Machine) { m.reporter = r }
}

// NewMachine returns a machine in the initial state.
func NewMachine(log logrus.FieldLogger, opts ...Option) *Machine {
	m := &Machine{
		state:    StateInitial,
		now:      time.Now,
		reporter: logReporter{log: log},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// InFlight reports whether a command is currently being processed, i.e. a
// new SEND would be a violation.
func (m *Machine) InFlight() bool {
	switch m.state {
	case StateCommandSent, StateCommandInProgressDefault,
		StateCommandInProgressHasRows, StateCommandInProgressStreaming:
		return true
	default:
		return false
	}
}

// Snapshot returns a deep clone of the in-progress command output, or nil
// when no command has been sent since the last Finalize.
func (m *Machine) Snapshot() *CommandOutput {
	return m.output.Clone()
}

// Finalize hands ownership of the accumulated command output to the caller
// and leaves the machine with no context. Called once the machine has
// returned to readyForQuery; nothing is allocated until the next SEND.
func (m *Machine) Finalize() *CommandOutput {
	out := m.output
	m.output = nil
	return out
}

// Stop terminates the machine. All further events are dropped.
func (m *Machine) Stop() {
	m.state = StateStopped
}

// stateSame is a sentinel next-state meaning "stay where you are".
const stateSame State = -1

// transition is one cell of the state × event table.
type transition struct {
	next  State
	apply func(m *Machine, ev Event)
	// noop marks a transition that is a declared benign no-op rather than
	// a swallowed event, e.g. a repeated READY_FOR_QUERY.
	noop bool
}

// transitions is the explicit state × event table. Any (state, event) pair
// absent here is a protocol violation.
var transitions = map[State]map[eventKind]transition{
	StateInitial: {
		eventReadyForQuery: {next: StateReadyForQuery},
	},
	StateReadyForQuery: {
		eventReadyForQuery: {next: stateSame, noop: true},
		eventSend:          {next: StateCommandSent, apply: applySend},
	},
	StateCommandSent: {
		eventReadyForQuery:            {next: StateReadyForQuery},
		eventCommandStartingDefault:   {next: StateCommandInProgressDefault, apply: applyStartingDefault},
		eventCommandStartingHasRows:   {next: StateCommandInProgressHasRows, apply: applyStartingHasRows},
		eventCommandStartingStreaming: {next: StateCommandInProgressStreaming, apply: applyStartingStreaming},
		eventNotice:                   {next: stateSame, apply: applyNotice},
		eventError:                    {next: StateCommandSent, apply: applyError},
	},
	StateCommandInProgressDefault: {
		eventReadyForQuery:   {next: StateReadyForQuery},
		eventNotice:          {next: stateSame, apply: applyNotice},
		eventError:           {next: StateCommandSent, apply: applyError},
		eventCommandComplete: {next: StateCommandSent, apply: applyComplete},
	},
	StateCommandInProgressHasRows: {
		eventReadyForQuery:   {next: StateReadyForQuery},
		eventRows:            {next: stateSame, apply: applyRows},
		eventRow:             {next: stateSame, apply: applyRow},
		eventNotice:          {next: stateSame, apply: applyNotice},
		eventError:           {next: StateCommandSent, apply: applyError},
		eventCommandComplete: {next: StateCommandSent, apply: applyComplete},
	},
	StateCommandInProgressStreaming: {
		eventReadyForQuery:   {next: StateReadyForQuery},
		eventRows:            {next: stateSame, apply: applyRows},
		eventRow:             {next: stateSame, apply: applyRow},
		eventNotice:          {next: stateSame, apply: applyNotice},
		eventError:           {next: StateCommandSent, apply: applyError},
		eventCommandComplete: {next: StateCommandSent, apply: applyComplete},
	},
}

// Apply feeds one event into the machine. It returns true if the event was
// handled (including declared no-ops). Unhandled events are reported to the
// violation sink and leave the state untouched.
func (m *Machine) Apply(ev Event) bool {
	if m.state == StateStopped {
		return false
	}
	t, ok := transitions[m.state][ev.kind()]
	if !ok {
		m.reporter.ReportViolation(m.state, ev)
		return false
	}
	if t.apply != nil {
		t.apply(m, ev)
	}
	if t.next != stateSame {
		m.state = t.next
	}
	return true
}

func applySend(m *Machine, ev Event) {
	send := ev.(SendEvent)
	m.output = &CommandOutput{
		HistoryID:       send.HistoryID,
		Command:         send.Command,
		Statements:      send.Statements,
		CommandSentTime: m.now(),
		CommandResults:  []*CommandResult{{}},
	}
}

func applyStartingDefault(m *Machine, _ Event) {
	if r := m.output.CurrentResult(); r != nil {
		r.HasRows = boolPtr(false)
	}
}

func applyStartingHasRows(m *Machine, _ Event) {
	if r := m.output.CurrentResult(); r != nil {
		r.HasRows = boolPtr(true)
		r.Rows = [][]any{}
	}
}

func applyStartingStreaming(m *Machine, ev Event) {
	starting := ev.(CommandStartingStreamingEvent)
	if r := m.output.CurrentResult(); r != nil {
		r.IsStreaming = true
		r.HasRows = boolPtr(starting.HasRows)
		if starting.HasRows {
			r.Rows = [][]any{}
		}
	}
}

func applyRows(m *Machine, ev Event) {
	if r := m.output.CurrentResult(); r != nil {
		r.Cols = ev.(RowsEvent).Columns
	}
}

func applyRow(m *Machine, ev Event) {
	if r := m.output.CurrentResult(); r != nil && r.Rows != nil {
		r.Rows = append(r.Rows, ev.(RowEvent).Row)
	}
}

func applyNotice(m *Machine, ev Event) {
	if r := m.output.CurrentResult(); r != nil {
		r.Notices = append(r.Notices, ev.(NoticeEvent).Notice)
	}
}

func applyError(m *Machine, ev Event) {
	e := ev.(ErrorEvent).Err
	if m.output == nil {
		return
	}
	m.output.Error = &e
	if r := m.output.CurrentResult(); r != nil && !r.Finalized() {
		r.EndTime = m.now()
	}
}

func applyComplete(m *Machine, ev Event) {
	if m.output == nil {
		return
	}
	if r := m.output.CurrentResult(); r != nil {
		r.EndTime = m.now()
		r.CommandCompletePayload = ev.(CommandCompleteEvent).Payload
	}
	// More statements to go: open a fresh result for the next one.
	if len(m.output.CommandResults) < len(m.output.Statements) {
		m.output.CommandResults = append(m.output.CommandResults, &CommandResult{})
	}
}
