package generator

import (
	"fmt"
	"strings"

	"github.com/ignite/personifeed/internal/store"
)

const systemInstructions = `You write a short personalized email newsletter for one reader.

## Format
- Plain text only. No HTML, no markdown headers.
- Open with a one-line summary, then 3-6 short sections.
- Keep the whole newsletter under 600 words.
- End with a single line inviting the reader to reply with adjustments.

## Tone
- Direct and information-dense. No filler, no greetings longer than one line.
- Write today's edition: lead with what is new or changed.

The reader's original request describes what they want covered. Their
feedback notes are adjustments sent since then; later notes win when they
conflict with earlier ones or with the original request.`

// BuildPrompt assembles the system and user prompts for one generation call.
// history is chronological with the initial entry first; the store already
// bounds the reply window, so the prompt size is capped regardless of how
// long the reader has been subscribed.
func BuildPrompt(user *store.User, history []*store.FeedbackEntry) (systemPrompt, userPrompt string) {
	var b strings.Builder

	intent := user.Prompt
	var replies []*store.FeedbackEntry
	for _, e := range history {
		switch e.Source {
		case store.SourceInitial:
			intent = e.Body
		case store.SourceReply:
			replies = append(replies, e)
		}
	}

	b.WriteString("## Reader's request\n")
	b.WriteString(intent)
	b.WriteString("\n")

	if len(replies) > 0 {
		b.WriteString("\n## Feedback since subscribing (oldest first)\n")
		for _, r := range replies {
			fmt.Fprintf(&b, "- [%s] %s\n", r.CreatedAt.Format("2006-01-02"), r.Body)
		}
	}

	b.WriteString("\nWrite today's newsletter for this reader.")

	return systemInstructions, b.String()
}
