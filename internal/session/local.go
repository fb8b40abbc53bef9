package session

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/rillstream/console/internal/cmdcache"
	"github.com/rillstream/console/internal/history"
)

const helpText = `Available commands:
  \help                show this help
  \history [prefix]    list recently submitted commands, optionally
                       filtered by prefix

Anything else is sent to the server. Statements are split at top-level
semicolons and executed in order.`

// isLocalCommand reports whether the input is a client-only pseudo-command.
func isLocalCommand(command string) bool {
	return strings.HasPrefix(strings.TrimSpace(command), `\`)
}

// runLocalCommand executes a pseudo-command entirely client-side and
// commits its output to history as a local command item. The machine is
// never involved.
func (s *Session) runLocalCommand(ctx context.Context, command string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(command))

	var output string
	switch fields[0] {
	case `\help`:
		output = helpText
	case `\history`:
		prefix := ""
		if len(fields) > 1 {
			prefix = fields[1]
		}
		output = s.historyListing(ctx, prefix)
	default:
		output = "unknown command " + fields[0] + `; try \help`
	}

	id := uuid.New().String()
	s.history.Append(history.LocalCommandItem{
		ID:      id,
		SentAt:  s.now(),
		Command: command,
		Output:  output,
	})
	return id, nil
}

func (s *Session) historyListing(ctx context.Context, prefix string) string {
	if s.opts.Recorder == nil {
		return "command cache is not configured"
	}

	var (
		cached []*cachedCommand
		err    error
	)
	if prefix != "" {
		res, serr := s.opts.Recorder.Search(ctx, s.opts.Scope, prefix, 20)
		cached, err = toCached(res), serr
	} else {
		res, serr := s.opts.Recorder.Recent(ctx, s.opts.Scope, 20)
		cached, err = toCached(res), serr
	}
	if err != nil {
		return "history unavailable: " + err.Error()
	}
	if len(cached) == 0 {
		return "no matching commands"
	}

	var b strings.Builder
	for _, c := range cached {
		b.WriteString(c.submittedAt)
		b.WriteString("  ")
		b.WriteString(c.text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

type cachedCommand struct {
	submittedAt string
	text        string
}

func toCached(cmds []*cmdcache.Command) []*cachedCommand {
	out := make([]*cachedCommand, len(cmds))
	for i, c := range cmds {
		out[i] = &cachedCommand{
			submittedAt: c.SubmittedAt.Format("2006-01-02 15:04:05"),
			text:        c.CommandText,
		}
	}
	return out
}
