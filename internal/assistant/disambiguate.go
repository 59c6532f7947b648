package assistant

import (
	"unicode/utf8"

	"github.com/skypro1111/circuit-voice-assistant/internal/platform"
)

// Outcome is the result of matching a name query against candidates
type Outcome int

const (
	// OutcomeNone means nothing matched; ask for the name again.
	OutcomeNone Outcome = iota
	// OutcomeOne means a single match; ask for confirmation.
	OutcomeOne
	// OutcomeMany means several matches; suggest some and ask again.
	OutcomeMany
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeOne:
		return "one"
	default:
		return "many"
	}
}

// MaxSuggestions is the number of candidates offered on an ambiguous match.
const MaxSuggestions = 7

// MaxTitleLength is the length placeholder titles are cut to.
const MaxTitleLength = 25

// Disambiguate classifies candidates and returns the ones to present: the
// single match, or at most MaxSuggestions of many.
func Disambiguate[T any](candidates []T) (Outcome, []T) {
	switch n := len(candidates); {
	case n == 0:
		return OutcomeNone, nil
	case n == 1:
		return OutcomeOne, candidates
	case n > MaxSuggestions:
		return OutcomeMany, candidates[:MaxSuggestions]
	default:
		return OutcomeMany, candidates
	}
}

// displayNames returns the display names of users
func displayNames(users []platform.User) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.DisplayName)
	}
	return names
}

// truncate cuts s to at most n characters
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// ConferenceTitle returns the topic of a conversation, or its topic
// placeholder cut to MaxTitleLength when it has no topic.
func ConferenceTitle(details *platform.ConversationDetails) string {
	if details.Topic != "" {
		return details.Topic
	}
	return truncate(details.TopicPlaceholder, MaxTitleLength)
}
