package analysis

import "strings"

// Greeting and help questions are answered without touching a
// datasource or the language model.
const (
	greetingAnswer = "Hello. Ask a data question, for example: " +
		"what is the overdue rate by region this month?"
	helpAnswer = "I answer business data questions by generating and " +
		"running SQL against a configured datasource. Describe the " +
		"metric, the scope and the time range you care about."
)

var greetingPhrases = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
}

var helpPhrases = []string{
	"help", "what can you do", "how do i use this", "how does this work",
}

// conversationalReply returns a canned answer for greeting and help
// questions. Anything beyond a short phrase is treated as a data
// question and falls through to the SQL path.
func conversationalReply(question string) (string, bool) {
	q := strings.Trim(strings.ToLower(strings.TrimSpace(question)), "!.?, ")
	if q == "" || len(strings.Fields(q)) > 5 {
		return "", false
	}
	for _, phrase := range helpPhrases {
		if q == phrase {
			return helpAnswer, true
		}
	}
	for _, phrase := range greetingPhrases {
		if q == phrase || strings.HasPrefix(q, phrase+" ") || strings.HasPrefix(q, phrase+",") {
			return greetingAnswer, true
		}
	}
	return "", false
}
