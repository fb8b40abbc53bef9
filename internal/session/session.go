// Package session orchestrates one logical SQL session: it owns a
// transport, drives the protocol state machine from the transport's message
// stream, and writes committed command outputs through to the history
// accumulator. It also handles reconnection, out-of-band cancellation and
// client-local pseudo-commands.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rillstream/console/internal/cmdcache"
	"github.com/rillstream/console/internal/history"
	"github.com/rillstream/console/internal/protocol"
	"github.com/rillstream/console/internal/shell"
	"github.com/rillstream/console/internal/sqlsplit"
)

// Row write-through debounce: flush the in-progress snapshot to history
// after this many row events or this much time, whichever comes first.
// Cloning large row arrays per row would be O(rows) per event; batching
// trades a little display latency for throughput.
const (
	rowFlushCount    = 100
	rowFlushInterval = 50 * time.Millisecond
)

// Transport is what a session needs from its connection.
type Transport interface {
	Messages() <-chan protocol.Message
	Send(*protocol.ExecuteRequest) error
	SetParams(protocol.SessionParams) error
	Cancel(ctx context.Context) error
	Close() error
}

// DialFunc opens a fresh transport; used at session start and on reconnect.
type DialFunc func(ctx context.Context) (Transport, error)

// Options configure a session.
type Options struct {
	// Params are tracked locally and forwarded on change.
	Params protocol.SessionParams
	// Scope keys the command cache entries this session records.
	Scope cmdcache.Scope
	// Recorder persists submitted commands; optional.
	Recorder *cmdcache.Recorder
	// Clock overrides the time source, for tests.
	Clock func() time.Time
	// Reporter overrides the machine's violation sink, for tests.
	Reporter shell.ViolationReporter
}

// Session is one logical SQL session. The machine and history are mutated
// only under mu, by the run loop and by Submit; consumers read history
// snapshots, never the machine's live context.
type Session struct {
	ID string

	log     logrus.FieldLogger
	dial    DialFunc
	opts    Options
	history *history.Accumulator
	display *history.DisplayState

	mu        sync.Mutex
	transport Transport
	machine   *shell.Machine
	params    protocol.SessionParams
	// Set once the in-flight command has its first history entry;
	// subsequent flushes update in place.
	committed bool

	pendingRows int
	flushTimer  *time.Timer
	timerArmed  bool

	wg        sync.WaitGroup
	stopped   chan struct{}
	closeOnce sync.Once
}

// New dials a transport and starts the session's run loop.
func New(ctx context.Context, log logrus.FieldLogger, dial DialFunc, opts Options) (*Session, error) {
	s := &Session{
		ID:      uuid.New().String(),
		dial:    dial,
		opts:    opts,
		history: history.NewAccumulator(),
		display: history.NewDisplayState(),
		params:  opts.Params,
		stopped: make(chan struct{}),
	}
	s.log = log.WithFields(logrus.Fields{"component": "session", "session": s.ID})
	s.flushTimer = time.NewTimer(rowFlushInterval)
	if !s.flushTimer.Stop() {
		<-s.flushTimer.C
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) newMachine() *shell.Machine {
	var machineOpts []shell.Option
	if s.opts.Clock != nil {
		machineOpts = append(machineOpts, shell.WithClock(s.opts.Clock))
	}
	if s.opts.Reporter != nil {
		machineOpts = append(machineOpts, shell.WithReporter(s.opts.Reporter))
	}
	return shell.NewMachine(s.log, machineOpts...)
}

// connect dials a transport, installs a fresh machine starting from
// initial, and starts the run loop for that transport.
func (s *Session) connect(ctx context.Context) error {
	t, err := s.dial(ctx)
	if err != nil {
		return errors.Wrap(err, "dialing session transport")
	}
	if err := t.SetParams(s.paramsLocked()); err != nil {
		t.Close()
		return errors.Wrap(err, "propagating session parameters")
	}

	s.mu.Lock()
	s.transport = t
	s.machine = s.newMachine()
	s.committed = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(t)
	return nil
}

func (s *Session) paramsLocked() protocol.SessionParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// run consumes one transport's messages until it dies. Messages are
// processed strictly one at a time; the machine depends on that.
func (s *Session) run(t Transport) {
	defer s.wg.Done()
	for {
		select {
		case msg, ok := <-t.Messages():
			if !ok {
				s.handleDisconnect()
				return
			}
			s.handleMessage(msg)
		case <-s.flushTimer.C:
			s.mu.Lock()
			s.timerArmed = false
			s.flushLocked()
			s.mu.Unlock()
		case <-s.stopped:
			return
		}
	}
}

// handleMessage translates a transport message into machine events and
// write-through commits.
func (s *Session) handleMessage(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m := msg.(type) {
	case *protocol.BackendKeyData, *protocol.ParameterStatus:
		// Connection metadata; tracked by the transport / params, never
		// fed to the machine.
		if ps, ok := msg.(*protocol.ParameterStatus); ok {
			s.applyParameterLocked(ps)
		}

	case *protocol.ReadyForQuery:
		s.machine.Apply(shell.ReadyForQueryEvent{})
		s.commitFinalLocked()

	case *protocol.CommandStarting:
		var ev shell.Event
		switch {
		case m.IsStreaming:
			ev = shell.CommandStartingStreamingEvent{HasRows: m.HasRows}
		case m.HasRows:
			ev = shell.CommandStartingHasRowsEvent{}
		default:
			ev = shell.CommandStartingDefaultEvent{}
		}
		s.machine.Apply(ev)
		s.flushLocked()

	case *protocol.Rows:
		s.machine.Apply(shell.RowsEvent{Columns: m.Columns})
		s.scheduleRowFlushLocked()

	case *protocol.Row:
		s.machine.Apply(shell.RowEvent{Row: m.Row})
		s.scheduleRowFlushLocked()

	case *protocol.Notice:
		if s.machine.InFlight() {
			s.machine.Apply(shell.NoticeEvent{Notice: *m})
			s.flushLocked()
		} else {
			// Out-of-band notice: its own history item.
			s.history.Append(history.NoticeItem{
				ID:     uuid.New().String(),
				SentAt: s.now(),
				Notice: *m,
			})
		}

	case *protocol.CommandComplete:
		s.machine.Apply(shell.CommandCompleteEvent{Payload: m.Payload})
		s.flushLocked()

	case *protocol.Error:
		s.machine.Apply(shell.ErrorEvent{Err: *m})
		s.flushLocked()
	}
}

func (s *Session) applyParameterLocked(ps *protocol.ParameterStatus) {
	switch ps.Name {
	case "application_name":
		s.params.ApplicationName = ps.Value
	case "max_query_result_size":
		s.params.MaxQueryResultSize = ps.Value
	case "cluster":
		s.params.Cluster = ps.Value
	case "database":
		s.params.Database = ps.Value
	case "search_path":
		s.params.SearchPath = ps.Value
	default:
		if s.params.Options == nil {
			s.params.Options = make(map[string]string)
		}
		s.params.Options[ps.Name] = ps.Value
	}
}

// scheduleRowFlushLocked applies the buffering policy for row events.
func (s *Session) scheduleRowFlushLocked() {
	s.pendingRows++
	if s.pendingRows >= rowFlushCount {
		s.flushLocked()
		return
	}
	if !s.timerArmed {
		s.flushTimer.Reset(rowFlushInterval)
		s.timerArmed = true
	}
}

// flushLocked writes a cloned snapshot of the in-progress command output
// into history. The clone is required: the machine keeps mutating its live
// copy as further events arrive.
func (s *Session) flushLocked() {
	s.pendingRows = 0
	if s.timerArmed && s.flushTimer.Stop() {
		s.timerArmed = false
	}

	snap := s.machine.Snapshot()
	if snap == nil {
		return
	}
	s.commitLocked(snap)
}

// commitFinalLocked moves the finished command output into history once the
// machine has returned to readyForQuery. Ownership transfers; no clone.
func (s *Session) commitFinalLocked() {
	out := s.machine.Finalize()
	if out == nil {
		return
	}
	s.commitLocked(out)
	s.committed = false
}

func (s *Session) commitLocked(out *shell.CommandOutput) {
	if s.committed {
		s.history.Update(out.HistoryID, func(history.Item) history.Item {
			return history.CommandItem{Output: out}
		})
		return
	}
	s.history.Append(history.CommandItem{Output: out})
	s.committed = true
}

// Submit sends one command to the server. Commands are strictly serialized:
// submission is refused while a previous command is still in flight.
// Backslash commands are handled locally and never reach the server.
func (s *Session) Submit(ctx context.Context, command string) (string, error) {
	if isLocalCommand(command) {
		return s.runLocalCommand(ctx, command)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.transport == nil {
		return "", errors.New("session is disconnected; reconnect before submitting")
	}
	if s.machine.InFlight() {
		return "", errors.New("a command is already in flight")
	}

	statements := sqlsplit.Split(command)
	id := uuid.New().String()

	if !s.machine.Apply(shell.SendEvent{HistoryID: id, Command: command, Statements: statements}) {
		return "", errors.Newf("cannot submit in state %s", s.machine.State())
	}

	queries := make([]protocol.Query, len(statements))
	for i, stmt := range statements {
		queries[i] = protocol.Query{Query: stmt}
	}
	req := &protocol.ExecuteRequest{Queries: queries, Cluster: s.params.Cluster}

	if err := s.transport.Send(req); err != nil {
		// The server never saw the command; fail it locally and return
		// the machine to a sendable state.
		s.machine.Apply(shell.ErrorEvent{Err: protocol.Error{
			Message: err.Error(),
			Code:    "08006", // connection failure
		}})
		s.machine.Apply(shell.ReadyForQueryEvent{})
		s.commitFinalLocked()
		return id, errors.Wrap(err, "sending command")
	}

	if s.opts.Recorder != nil {
		s.opts.Recorder.Record(s.opts.Scope, command)
	}

	s.flushLocked()
	return id, nil
}

// Cancel requests cancellation of the in-flight command. The request goes
// out-of-band; the server acknowledges in-band with a canceled Error, which
// flows through the normal ERROR transition.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return errors.New("session is disconnected")
	}
	return t.Cancel(ctx)
}

// SetParam updates one session parameter and propagates the full set.
func (s *Session) SetParam(name, value string) error {
	s.mu.Lock()
	s.applyParameterLocked(&protocol.ParameterStatus{Name: name, Value: value})
	params := s.params
	t := s.transport
	s.mu.Unlock()

	if t == nil {
		return nil
	}
	return errors.Wrap(t.SetParams(params), "propagating parameter change")
}

// handleDisconnect stops the machine and commits a synthetic
// connection-lost notice. The accumulator debounces consecutive ones.
func (s *Session) handleDisconnect() {
	s.mu.Lock()
	s.machine.Stop()
	s.transport = nil
	s.mu.Unlock()

	s.history.Append(history.NoticeItem{
		ID:     uuid.New().String(),
		SentAt: s.now(),
		Notice: protocol.Notice{
			Severity: "ERROR",
			Message:  history.ConnectionLostMessage,
		},
	})
	s.log.Warn("transport closed; session requires reconnect")
}

// Reconnect tears down any remaining transport and starts over with a
// fresh machine from the initial state. History is preserved.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
	return s.connect(ctx)
}

// History returns the session's log accumulator.
func (s *Session) History() *history.Accumulator { return s.history }

// Display returns the per-result display state store.
func (s *Session) Display() *history.DisplayState { return s.display }

// Params returns the current session parameters.
func (s *Session) Params() protocol.SessionParams { return s.paramsLocked() }

// State returns the machine's current state.
func (s *Session) State() shell.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State()
}

// Connected reports whether a live transport is attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil
}

func (s *Session) now() time.Time {
	if s.opts.Clock != nil {
		return s.opts.Clock()
	}
	return time.Now()
}

// Close shuts the session down.
func (s *Session) Close() error {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.stopped) })
	if t != nil {
		t.Close()
	}
	s.wg.Wait()
	return nil
}
