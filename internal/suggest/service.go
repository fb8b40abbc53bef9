// Package suggest produces command-input suggestions for the shell: recall
// of previously submitted commands and static SQL keyword completions.
package suggest

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// Suggestion is one completion candidate.
type Suggestion struct {
	Text   string
	Source string
	Score  float32
}

// Provider is an interface for suggestion sources (history, keywords, ...).
type Provider interface {
	GetSuggestions(ctx context.Context, input string, cursorPos int) ([]Suggestion, error)
	Name() string
}

// Service fans a request out to its providers and merges the results.
type Service struct {
	log       logrus.FieldLogger
	providers []Provider
}

// NewService creates a suggestion service with the given providers, highest
// priority first.
func NewService(log logrus.FieldLogger, providers ...Provider) *Service {
	return &Service{
		log:       log.WithField("component", "suggest"),
		providers: providers,
	}
}

// GetSuggestions returns merged suggestions from all registered providers.
// Providers receive the raw input and cursor: recall providers match on the
// whole typed prefix, keyword providers on the token at the cursor.
func (s *Service) GetSuggestions(ctx context.Context, input string, cursorPos int) []Suggestion {
	var all []Suggestion
	for _, provider := range s.providers {
		suggestions, err := provider.GetSuggestions(ctx, input, cursorPos)
		if err != nil {
			s.log.WithError(err).WithField("provider", provider.Name()).Warn("provider error")
			continue
		}
		all = append(all, suggestions...)
	}

	deduped := deduplicate(all)

	// Cap results to keep the completion list manageable.
	if len(deduped) > 50 {
		deduped = deduped[:50]
	}
	return deduped
}

// typedPrefix returns the input up to the cursor with surrounding
// whitespace trimmed: the prefix a recall provider should match whole
// cached commands against.
func typedPrefix(input string, cursorPos int) string {
	if cursorPos > len(input) {
		cursorPos = len(input)
	}
	if cursorPos <= 0 {
		return ""
	}
	return strings.TrimSpace(input[:cursorPos])
}

// extractTokenAtCursor extracts the word at the cursor position.
func extractTokenAtCursor(input string, cursorPos int) string {
	if input == "" || cursorPos <= 0 || cursorPos > len(input) {
		return ""
	}

	start := cursorPos - 1
	for start > 0 && !isWhitespace(rune(input[start-1])) {
		start--
	}

	end := cursorPos
	for end < len(input) && !isWhitespace(rune(input[end])) {
		end++
	}

	return input[start:end]
}

func isWhitespace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// deduplicate removes duplicate texts, keeping the highest score, and sorts
// by score descending.
func deduplicate(suggestions []Suggestion) []Suggestion {
	seen := make(map[string]Suggestion)
	for _, s := range suggestions {
		if existing, ok := seen[s.Text]; !ok || s.Score > existing.Score {
			seen[s.Text] = s
		}
	}

	result := make([]Suggestion, 0, len(seen))
	for _, s := range seen {
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].Text < result[j].Text
	})
	return result
}

// KeywordProvider suggests common SQL keywords and statement starters.
type KeywordProvider struct{}

// NewKeywordProvider creates the static SQL keyword provider.
func NewKeywordProvider() *KeywordProvider {
	return &KeywordProvider{}
}

func (p *KeywordProvider) Name() string {
	return "keyword"
}

var sqlKeywords = []string{
	"SELECT", "FROM", "WHERE", "GROUP BY", "ORDER BY", "LIMIT", "JOIN",
	"INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER", "SHOW",
	"EXPLAIN", "SUBSCRIBE", "CREATE SOURCE", "CREATE SINK",
	"CREATE MATERIALIZED VIEW", "CREATE INDEX", "CREATE CLUSTER",
	"SET", "BEGIN", "COMMIT", "ROLLBACK",
}

func (p *KeywordProvider) GetSuggestions(ctx context.Context, input string, cursorPos int) ([]Suggestion, error) {
	// Match both the word being typed and the whole typed prefix, so
	// multi-word starters like CREATE SOURCE complete past the first word.
	candidates := []string{
		strings.ToUpper(extractTokenAtCursor(input, cursorPos)),
		strings.ToUpper(typedPrefix(input, cursorPos)),
	}

	seen := make(map[string]struct{})
	var suggestions []Suggestion
	for _, upper := range candidates {
		if upper == "" {
			continue
		}
		for _, kw := range sqlKeywords {
			if !strings.HasPrefix(kw, upper) || kw == upper {
				continue
			}
			if _, dup := seen[kw]; dup {
				continue
			}
			seen[kw] = struct{}{}
			score := float32(len(upper)) / float32(len(kw))
			suggestions = append(suggestions, Suggestion{
				Text:   kw,
				Source: "keyword",
				Score:  score * 0.5, // lower priority than history
			})
		}
	}
	return suggestions, nil
}
