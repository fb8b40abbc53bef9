package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rillstream/console/internal/history"
	"github.com/rillstream/console/internal/merge"
	"github.com/rillstream/console/internal/session"
	"github.com/rillstream/console/internal/shell"
)

// commandSettled reports whether the history item is ready to render, and
// returns it. Local items are ready immediately; command items settle once
// the machine is idle again or the session lost its connection.
func commandSettled(sess *session.Session, item history.Item) (bool, history.Item) {
	switch item.(type) {
	case history.LocalCommandItem, history.NoticeItem:
		return true, item
	case history.CommandItem:
		if sess.State() == shell.StateReadyForQuery || !sess.Connected() {
			return true, item
		}
	}
	return false, item
}

func render(w io.Writer, item history.Item, display *history.DisplayState) {
	switch it := item.(type) {
	case history.LocalCommandItem:
		fmt.Fprintln(w, it.Output)

	case history.NoticeItem:
		fmt.Fprintf(w, "%s: %s\n", it.Notice.Severity, it.Notice.Message)

	case history.CommandItem:
		renderCommand(w, it, display)
	}
}

func renderCommand(w io.Writer, item history.CommandItem, display *history.DisplayState) {
	out := item.Output
	for i, result := range out.CommandResults {
		key := history.ResultKey{HistoryID: out.HistoryID, ResultIndex: i}
		renderResult(w, out, result, display.Get(key))
	}

	if out.Error != nil {
		if out.Error.Canceled() {
			fmt.Fprintln(w, "Query canceled.")
			return
		}
		fmt.Fprintf(w, "ERROR: %s\n", out.Error.Message)
		if out.Error.Detail != "" {
			fmt.Fprintf(w, "DETAIL: %s\n", out.Error.Detail)
		}
		if out.Error.Hint != "" {
			fmt.Fprintf(w, "HINT: %s\n", out.Error.Hint)
		}
	}
}

func renderResult(w io.Writer, out *shell.CommandOutput, result *shell.CommandResult, disp history.ResultDisplay) {
	for _, n := range result.Notices {
		fmt.Fprintf(w, "%s: %s\n", n.Severity, n.Message)
		if n.Hint != "" {
			fmt.Fprintf(w, "HINT: %s\n", n.Hint)
		}
	}

	display := result
	if result.IsStreaming && !disp.DiffMode {
		// Show net-current state unless the user asked for the raw diff log.
		display = merge.Merged(result)
	}

	if display.HasRows != nil && *display.HasRows {
		if len(display.Cols) > 0 {
			names := make([]string, len(display.Cols))
			for i, c := range display.Cols {
				names[i] = c.Name
			}
			fmt.Fprintln(w, strings.Join(names, " | "))
			fmt.Fprintln(w, strings.Repeat("-", len(strings.Join(names, " | "))))
		}
		for _, row := range display.Rows {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = fmt.Sprint(v)
			}
			fmt.Fprintln(w, strings.Join(cells, " | "))
		}
		fmt.Fprintf(w, "(%s rows)\n", humanize.Comma(int64(len(display.Rows))))
	}

	if result.CommandCompletePayload != "" {
		elapsed := ""
		if result.Finalized() && !out.CommandSentTime.IsZero() {
			elapsed = fmt.Sprintf("  Time: %s", result.EndTime.Sub(out.CommandSentTime).Round(time.Millisecond))
		}
		fmt.Fprintf(w, "%s%s\n", result.CommandCompletePayload, elapsed)
	}
}
