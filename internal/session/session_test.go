package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rillstream/console/internal/history"
	"github.com/rillstream/console/internal/protocol"
	"github.com/rillstream/console/internal/shell"
)

type fakeTransport struct {
	mu      sync.Mutex
	msgs    chan protocol.Message
	sent    []*protocol.ExecuteRequest
	params  []protocol.SessionParams
	cancels int
	closed  bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{msgs: make(chan protocol.Message, 64)}
}

func (f *fakeTransport) Messages() <-chan protocol.Message { return f.msgs }

func (f *fakeTransport) Send(req *protocol.ExecuteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeTransport) SetParams(p protocol.SessionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, p)
	return nil
}

func (f *fakeTransport) Cancel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.msgs)
	}
	return nil
}

func (f *fakeTransport) sentRequests() []*protocol.ExecuteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*protocol.ExecuteRequest(nil), f.sent...)
}

func (f *fakeTransport) push(msgs ...protocol.Message) {
	for _, m := range msgs {
		f.msgs <- m
	}
}

func testSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	fake := newFakeTransport()
	dial := func(ctx context.Context) (Transport, error) { return fake, nil }

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	sess, err := New(context.Background(), log, dial, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })

	fake.push(&protocol.ReadyForQuery{})
	waitForState(t, sess, shell.StateReadyForQuery)
	return sess, fake
}

func waitForState(t *testing.T, sess *Session, want shell.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sess.State() == want
	}, 2*time.Second, 5*time.Millisecond, "waiting for state %s", want)
}

func TestSubmitRoundTrip(t *testing.T) {
	sess, fake := testSession(t)

	id, err := sess.Submit(context.Background(), "SELECT 5;")
	require.NoError(t, err)

	reqs := fake.sentRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, []protocol.Query{{Query: "SELECT 5"}}, reqs[0].Queries)

	col := protocol.Column{Name: "?column?", Type: "int4"}
	fake.push(
		&protocol.CommandStarting{HasRows: true},
		&protocol.Rows{Columns: []protocol.Column{col}},
		&protocol.Row{Row: []any{5}},
		&protocol.CommandComplete{Payload: "SELECT 5"},
		&protocol.ReadyForQuery{},
	)
	waitForState(t, sess, shell.StateReadyForQuery)

	item, ok := sess.History().Get(id)
	require.True(t, ok)
	out := item.(history.CommandItem).Output
	require.Len(t, out.CommandResults, 1)

	result := out.CommandResults[0]
	assert.Equal(t, []protocol.Column{col}, result.Cols)
	assert.Equal(t, [][]any{{5}}, result.Rows)
	assert.Equal(t, "SELECT 5", result.CommandCompletePayload)
	assert.True(t, result.Finalized())
}

func TestSubmitSplitsStatements(t *testing.T) {
	sess, fake := testSession(t)

	_, err := sess.Submit(context.Background(), "SELECT 1; SELECT 'a;b';")
	require.NoError(t, err)

	reqs := fake.sentRequests()
	require.Len(t, reqs, 1)
	require.Equal(t, []protocol.Query{
		{Query: "SELECT 1"},
		{Query: "SELECT 'a;b'"},
	}, reqs[0].Queries)
}

func TestSubmitRefusedWhileInFlight(t *testing.T) {
	sess, _ := testSession(t)

	_, err := sess.Submit(context.Background(), "SELECT 1;")
	require.NoError(t, err)

	_, err = sess.Submit(context.Background(), "SELECT 2;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in flight")
}

func TestServerErrorRecordedOnOutput(t *testing.T) {
	sess, fake := testSession(t)

	id, err := sess.Submit(context.Background(), "SELECT 1/0;")
	require.NoError(t, err)

	fake.push(
		&protocol.CommandStarting{HasRows: true},
		&protocol.Error{Message: "division by zero", Code: "22012"},
		&protocol.ReadyForQuery{},
	)
	waitForState(t, sess, shell.StateReadyForQuery)

	item, _ := sess.History().Get(id)
	out := item.(history.CommandItem).Output
	require.NotNil(t, out.Error)
	assert.Equal(t, "division by zero", out.Error.Message)
	assert.False(t, out.Error.Canceled())
	assert.True(t, out.CommandResults[0].Finalized())
}

func TestCanceledErrorClassification(t *testing.T) {
	sess, fake := testSession(t)

	id, err := sess.Submit(context.Background(), "SUBSCRIBE t;")
	require.NoError(t, err)

	require.NoError(t, sess.Cancel(context.Background()))
	assert.Equal(t, 1, fake.cancels)

	fake.push(
		&protocol.CommandStarting{IsStreaming: true, HasRows: true},
		&protocol.Error{Message: "canceling statement due to user request", Code: protocol.CodeQueryCanceled},
		&protocol.ReadyForQuery{},
	)
	waitForState(t, sess, shell.StateReadyForQuery)

	item, _ := sess.History().Get(id)
	out := item.(history.CommandItem).Output
	require.NotNil(t, out.Error)
	assert.True(t, out.Error.Canceled())
}

func TestStreamingRowsFlushOnCount(t *testing.T) {
	sess, fake := testSession(t)

	id, err := sess.Submit(context.Background(), "SUBSCRIBE t;")
	require.NoError(t, err)

	fake.push(
		&protocol.CommandStarting{IsStreaming: true, HasRows: true},
		&protocol.Rows{Columns: []protocol.Column{{Name: "v", Type: "int4"}}},
	)
	for i := 0; i < rowFlushCount+50; i++ {
		fake.push(&protocol.Row{Row: []any{i}})
	}

	// The write-through lands in history while the command is still
	// streaming: no CommandComplete has been sent.
	require.Eventually(t, func() bool {
		item, ok := sess.History().Get(id)
		if !ok {
			return false
		}
		out := item.(history.CommandItem).Output
		return len(out.CommandResults) == 1 &&
			len(out.CommandResults[0].Rows) >= rowFlushCount
	}, 2*time.Second, 5*time.Millisecond)

	item, _ := sess.History().Get(id)
	result := item.(history.CommandItem).Output.CommandResults[0]
	assert.False(t, result.Finalized())
	assert.Equal(t, shell.StateCommandInProgressStreaming, sess.State())

	// The stragglers past the count threshold arrive via the interval
	// flush; completion then lands the full set.
	fake.push(
		&protocol.CommandComplete{Payload: "SUBSCRIBE"},
		&protocol.ReadyForQuery{},
	)
	waitForState(t, sess, shell.StateReadyForQuery)

	item, _ = sess.History().Get(id)
	assert.Len(t, item.(history.CommandItem).Output.CommandResults[0].Rows, rowFlushCount+50)
}

func TestStreamingRowsFlushOnInterval(t *testing.T) {
	sess, fake := testSession(t)

	id, err := sess.Submit(context.Background(), "SUBSCRIBE t;")
	require.NoError(t, err)

	fake.push(
		&protocol.CommandStarting{IsStreaming: true, HasRows: true},
		&protocol.Rows{Columns: []protocol.Column{{Name: "v", Type: "int4"}}},
	)
	for i := 0; i < 5; i++ {
		fake.push(&protocol.Row{Row: []any{i}})
	}

	// Far fewer rows than the count threshold: only the interval flush can
	// land this partial snapshot.
	require.Eventually(t, func() bool {
		item, ok := sess.History().Get(id)
		if !ok {
			return false
		}
		out := item.(history.CommandItem).Output
		return len(out.CommandResults) == 1 &&
			len(out.CommandResults[0].Rows) == 5
	}, 2*time.Second, rowFlushInterval/5)

	item, _ := sess.History().Get(id)
	assert.False(t, item.(history.CommandItem).Output.CommandResults[0].Finalized())
	assert.Equal(t, shell.StateCommandInProgressStreaming, sess.State())
}

func TestOutOfBandNoticeBecomesHistoryItem(t *testing.T) {
	sess, fake := testSession(t)

	fake.push(&protocol.Notice{Severity: "NOTICE", Message: "cluster restarted"})

	require.Eventually(t, func() bool {
		return sess.History().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	items := sess.History().Items()
	notice, ok := items[0].(history.NoticeItem)
	require.True(t, ok)
	assert.Equal(t, "cluster restarted", notice.Notice.Message)
}

func TestInFlightNoticeAttachesToResult(t *testing.T) {
	sess, fake := testSession(t)

	id, err := sess.Submit(context.Background(), "DROP TABLE IF EXISTS t;")
	require.NoError(t, err)

	fake.push(
		&protocol.CommandStarting{},
		&protocol.Notice{Severity: "NOTICE", Message: "table does not exist"},
		&protocol.CommandComplete{Payload: "DROP TABLE"},
		&protocol.ReadyForQuery{},
	)
	waitForState(t, sess, shell.StateReadyForQuery)

	// The notice rides on the command's result, not the top-level log.
	require.Equal(t, 1, sess.History().Len())
	item, _ := sess.History().Get(id)
	out := item.(history.CommandItem).Output
	require.Len(t, out.CommandResults[0].Notices, 1)
}

func TestDisconnectStopsMachineAndCommitsNotice(t *testing.T) {
	sess, fake := testSession(t)

	fake.Close()

	require.Eventually(t, func() bool {
		return !sess.Connected()
	}, 2*time.Second, 5*time.Millisecond)
	waitForState(t, sess, shell.StateStopped)

	require.Eventually(t, func() bool {
		return sess.History().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	items := sess.History().Items()
	notice := items[0].(history.NoticeItem)
	assert.Equal(t, history.ConnectionLostMessage, notice.Notice.Message)

	_, err := sess.Submit(context.Background(), "SELECT 1;")
	require.Error(t, err)
}

func TestReconnectStartsFreshMachine(t *testing.T) {
	fakes := []*fakeTransport{newFakeTransport(), newFakeTransport()}
	dials := 0
	dial := func(ctx context.Context) (Transport, error) {
		f := fakes[dials]
		dials++
		return f, nil
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	sess, err := New(context.Background(), log, dial, Options{})
	require.NoError(t, err)
	defer sess.Close()

	fakes[0].push(&protocol.ReadyForQuery{})
	waitForState(t, sess, shell.StateReadyForQuery)

	fakes[0].Close()
	waitForState(t, sess, shell.StateStopped)
	require.Eventually(t, func() bool {
		return sess.History().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	historyLen := sess.History().Len()

	require.NoError(t, sess.Reconnect(context.Background()))
	require.Equal(t, shell.StateInitial, sess.State())

	fakes[1].push(&protocol.ReadyForQuery{})
	waitForState(t, sess, shell.StateReadyForQuery)

	// History survives reconnection.
	assert.Equal(t, historyLen, sess.History().Len())
}

func TestRepeatedDisconnectNoticesDebounced(t *testing.T) {
	fakes := []*fakeTransport{newFakeTransport(), newFakeTransport()}
	dials := 0
	dial := func(ctx context.Context) (Transport, error) {
		f := fakes[dials]
		dials++
		return f, nil
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	sess, err := New(context.Background(), log, dial, Options{})
	require.NoError(t, err)
	defer sess.Close()

	fakes[0].Close()
	require.Eventually(t, func() bool {
		return sess.History().Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, sess.Reconnect(context.Background()))
	fakes[1].Close()

	// The second consecutive connection-loss notice is suppressed.
	require.Eventually(t, func() bool {
		return !sess.Connected()
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, sess.History().Len())
}

func TestLocalCommandNeverReachesServer(t *testing.T) {
	sess, fake := testSession(t)

	id, err := sess.Submit(context.Background(), `\help`)
	require.NoError(t, err)
	assert.Empty(t, fake.sentRequests())

	item, ok := sess.History().Get(id)
	require.True(t, ok)
	local, ok := item.(history.LocalCommandItem)
	require.True(t, ok)
	assert.Contains(t, local.Output, `\history`)
}

func TestParameterStatusTracked(t *testing.T) {
	sess, fake := testSession(t)

	fake.push(
		&protocol.ParameterStatus{Name: "cluster", Value: "quickstart"},
		&protocol.ParameterStatus{Name: "enable_plan_insights", Value: "on"},
	)

	require.Eventually(t, func() bool {
		return sess.Params().Cluster == "quickstart"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "on", sess.Params().Options["enable_plan_insights"])
}

func TestManagerLifecycle(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	mgr := NewManager(log)

	fake := newFakeTransport()
	sess, err := mgr.Create(context.Background(), func(ctx context.Context) (Transport, error) {
		return fake, nil
	}, Options{})
	require.NoError(t, err)

	got, err := mgr.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	require.Len(t, mgr.List(), 1)
	require.NoError(t, mgr.CloseSession(sess.ID))

	_, err = mgr.Get(sess.ID)
	require.Error(t, err)
	require.NoError(t, mgr.Close())
}
