package suggest

import (
	"context"
	"sort"
	"strings"

	"github.com/rillstream/console/internal/cmdcache"
)

// HistoryProvider suggests previously submitted commands from the command
// cache, scoped to the console's organization and region.
type HistoryProvider struct {
	recorder *cmdcache.Recorder
	scope    cmdcache.Scope
}

// NewHistoryProvider creates a history suggestion provider over the cache.
func NewHistoryProvider(recorder *cmdcache.Recorder, scope cmdcache.Scope) *HistoryProvider {
	return &HistoryProvider{
		recorder: recorder,
		scope:    scope,
	}
}

// Name returns the provider name.
func (p *HistoryProvider) Name() string {
	return "history"
}

// GetSuggestions returns cached commands matching the typed prefix. Recall
// matches the whole prefix up to the cursor, not just the last word:
// completing "SELECT *" must find "SELECT * FROM orders".
func (p *HistoryProvider) GetSuggestions(ctx context.Context, input string, cursorPos int) ([]Suggestion, error) {
	prefix := typedPrefix(input, cursorPos)
	if prefix == "" {
		return nil, nil
	}

	commands, err := p.recorder.Search(ctx, p.scope, prefix, 50)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var suggestions []Suggestion

	for i, cmd := range commands {
		text := cmd.CommandText
		if _, exists := seen[text]; exists {
			continue
		}
		seen[text] = struct{}{}

		// No point suggesting exactly what's already typed.
		if text == prefix {
			continue
		}

		suggestions = append(suggestions, Suggestion{
			Text:   text,
			Source: "history",
			Score:  calculateHistoryScore(text, prefix, i, len(commands)),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})

	if len(suggestions) > 20 {
		suggestions = suggestions[:20]
	}
	return suggestions, nil
}

// calculateHistoryScore computes a relevance score for a cached command:
// recency plus prefix-match quality on a base above the keyword provider's.
func calculateHistoryScore(cmdText, input string, index, total int) float32 {
	var score float32 = 0.7

	// Recency boost: index 0 is most recent.
	if total > 1 {
		recencyFactor := float32(total-index) / float32(total)
		score += recencyFactor * 0.15
	}

	lowerCmd := strings.ToLower(cmdText)
	lowerInput := strings.ToLower(input)

	if strings.HasPrefix(lowerCmd, lowerInput) {
		matchRatio := float32(len(input)) / float32(len(cmdText))
		score += matchRatio * 0.1

		// Exact case match bonus.
		if strings.HasPrefix(cmdText, input) {
			score += 0.05
		}
	}

	return score
}
