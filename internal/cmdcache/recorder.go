package cmdcache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Recorder front-ends the cache DB with an async write worker so recording
// a command never blocks the session's event loop.
type Recorder struct {
	db       *DB
	log      logrus.FieldLogger
	writeCh  chan *writeRequest
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// writeRequest encapsulates a command to be written to storage.
type writeRequest struct {
	cmd      *Command
	resultCh chan error // optional, for callers who want confirmation
}

// NewRecorder starts a recorder over the given DB.
func NewRecorder(db *DB, log logrus.FieldLogger) *Recorder {
	r := &Recorder{
		db:      db,
		log:     log.WithField("component", "cmdcache"),
		writeCh: make(chan *writeRequest, 100), // buffered to handle bursts
		stopCh:  make(chan struct{}),
	}

	r.wg.Add(1)
	go r.writeWorker()

	return r
}

func (r *Recorder) writeWorker() {
	defer r.wg.Done()

	for {
		select {
		case req := <-r.writeCh:
			r.handleWrite(req)
		case <-r.stopCh:
			// Drain remaining writes before exiting.
			for {
				select {
				case req := <-r.writeCh:
					r.handleWrite(req)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handleWrite(req *writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := r.db.InsertCommand(ctx, req.cmd)
	cancel()

	if err != nil {
		r.log.WithError(err).Warn("failed to cache command")
	}
	if req.resultCh != nil {
		req.resultCh <- err
		close(req.resultCh)
	}
}

// Record asynchronously caches a submitted command string. Blank commands
// are skipped; if the write buffer is full the command is dropped rather
// than stalling the caller.
func (r *Recorder) Record(scope Scope, cmdText string) {
	trimmed := strings.TrimSpace(cmdText)
	if trimmed == "" {
		return
	}

	cmd := &Command{
		SubmittedAt:  time.Now(),
		Organization: scope.Organization,
		Region:       scope.Region,
		CommandText:  trimmed,
	}

	select {
	case r.writeCh <- &writeRequest{cmd: cmd}:
	default:
		r.log.WithField("command", trimmed).Warn("cache write buffer full, dropping command")
	}
}

// RecordSync caches a command and waits for the write to land. Use
// sparingly; the async path is the normal one.
func (r *Recorder) RecordSync(scope Scope, cmdText string) error {
	trimmed := strings.TrimSpace(cmdText)
	if trimmed == "" {
		return nil
	}

	cmd := &Command{
		SubmittedAt:  time.Now(),
		Organization: scope.Organization,
		Region:       scope.Region,
		CommandText:  trimmed,
	}

	resultCh := make(chan error, 1)
	select {
	case r.writeCh <- &writeRequest{cmd: cmd, resultCh: resultCh}:
		return <-resultCh
	default:
		return nil // drop if buffer full
	}
}

// Recent returns the newest cached commands for the scope.
func (r *Recorder) Recent(ctx context.Context, scope Scope, limit int) ([]*Command, error) {
	return r.db.RecentCommands(ctx, scope, limit)
}

// Search returns cached commands matching the prefix.
func (r *Recorder) Search(ctx context.Context, scope Scope, prefix string, limit int) ([]*Command, error) {
	return r.db.SearchCommands(ctx, scope, prefix, limit)
}

// Close flushes pending writes and stops the worker.
func (r *Recorder) Close() error {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
	return nil
}
