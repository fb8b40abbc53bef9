// Package history maintains the session's displayed log: an ordered,
// independently addressable collection of commands, standalone notices and
// client-local pseudo-commands.
package history

import (
	"time"

	"github.com/rillstream/console/internal/protocol"
	"github.com/rillstream/console/internal/shell"
)

// Item is one entry in the session log.
type Item interface {
	HistoryID() string
	Kind() Kind
}

// Kind tags the item union.
type Kind int

const (
	KindCommand Kind = iota
	KindNotice
	KindLocalCommand
)

// CommandItem wraps a committed command output.
type CommandItem struct {
	Output *shell.CommandOutput
}

func (c CommandItem) HistoryID() string { return c.Output.HistoryID }
func (c CommandItem) Kind() Kind        { return KindCommand }

// NoticeItem is a standalone out-of-band server notice.
type NoticeItem struct {
	ID     string
	SentAt time.Time
	Notice protocol.Notice
}

func (n NoticeItem) HistoryID() string { return n.ID }
func (n NoticeItem) Kind() Kind        { return KindNotice }

// LocalCommandItem is a client-only pseudo-command, e.g. help output. It
// never reaches the server.
type LocalCommandItem struct {
	ID      string
	SentAt  time.Time
	Command string
	Output  string
}

func (l LocalCommandItem) HistoryID() string { return l.ID }
func (l LocalCommandItem) Kind() Kind        { return KindLocalCommand }

// ConnectionLostMessage is the message of the synthetic notice committed
// when the transport closes.
const ConnectionLostMessage = "connection to the server was lost"

// isConnectionLoss reports whether the item is a connection-loss notice.
// Consecutive connection-loss notices are debounced on append.
func isConnectionLoss(item Item) bool {
	n, ok := item.(NoticeItem)
	return ok && n.Notice.Message == ConnectionLostMessage
}
