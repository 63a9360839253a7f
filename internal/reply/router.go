// Package reply converts inbound email events into stored feedback entries.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ignite/personifeed/internal/dispatch"
	"github.com/ignite/personifeed/internal/pkg/logger"
	"github.com/ignite/personifeed/internal/replyaddr"
	"github.com/ignite/personifeed/internal/store"
)

// Outcome classifies how an inbound event was handled. Discarded events
// (everything except Stored) are reported, never propagated as errors;
// misdirected and spam mail must not fail the pipeline.
type Outcome string

const (
	OutcomeStored       Outcome = "stored"
	OutcomeNotAddressed Outcome = "not_addressed"
	OutcomeUnknownUser  Outcome = "unknown_user"
	OutcomeEmptyBody    Outcome = "empty_body"
	OutcomeDuplicate    Outcome = "duplicate"
)

// ErrPersistFailure marks a storage failure after a successful decode and
// lookup. The webhook handler turns it into a 5xx so the mail provider
// redelivers the event.
var ErrPersistFailure = errors.New("failed to persist feedback")

// InboundEvent is the parsed-email payload delivered by the mail provider
type InboundEvent struct {
	To        string `json:"to"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
}

// Store is the subset of store operations routing needs
type Store interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
	AppendFeedback(ctx context.Context, userID uuid.UUID, body string, source store.FeedbackSource) (*store.FeedbackEntry, error)
}

// Dispatcher sends the receipt confirmation
type Dispatcher interface {
	Send(ctx context.Context, user *store.User, body string, kind dispatch.Kind) error
}

// Deduper suppresses duplicate webhook deliveries of the same message.
// Best-effort only: a false negative just means a second feedback entry,
// which is additive and harmless under at-least-once delivery.
type Deduper interface {
	Seen(ctx context.Context, messageID string) bool
}

// Router handles inbound reply events. Events share no state; concurrent
// calls are independent.
type Router struct {
	store        Store
	codec        *replyaddr.Codec
	dispatcher   Dispatcher
	dedup        Deduper // optional
	maxBodyChars int
}

// New creates a router. dedup may be nil.
func New(st Store, codec *replyaddr.Codec, disp Dispatcher, dedup Deduper, maxBodyChars int) *Router {
	if maxBodyChars <= 0 {
		maxBodyChars = 2000
	}
	return &Router{store: st, codec: codec, dispatcher: disp, dedup: dedup, maxBodyChars: maxBodyChars}
}

// Handle processes one inbound event. The returned error is non-nil only
// for persist/lookup failures, where redelivery can help; every other
// outcome is a terminal disposition for the event.
func (r *Router) Handle(ctx context.Context, event InboundEvent) (Outcome, error) {
	if r.dedup != nil && event.MessageID != "" && r.dedup.Seen(ctx, event.MessageID) {
		logger.Info("duplicate inbound event skipped", "message_id", event.MessageID)
		return OutcomeDuplicate, nil
	}

	userID, err := r.codec.Decode(event.To)
	if err != nil {
		logger.Info("inbound event not addressed to pipeline",
			"to", event.To, "from", event.From)
		return OutcomeNotAddressed, nil
	}

	user, err := r.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: user lookup: %v", ErrPersistFailure, err)
	}
	if user == nil {
		// stale or forged token; nothing to attribute the feedback to
		logger.Warn("inbound event for unknown user", "user_id", userID.String())
		return OutcomeUnknownUser, nil
	}

	body := sanitizeBody(event.Text, r.maxBodyChars)
	if body == "" {
		logger.Info("inbound event with empty body discarded", "user_id", userID.String())
		return OutcomeEmptyBody, nil
	}

	if _, err := r.store.AppendFeedback(ctx, user.ID, body, store.SourceReply); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistFailure, err)
	}

	logger.Info("feedback stored", "user_id", user.ID.String(), "chars", len(body))

	// The feedback write is the durable fact; the confirmation is
	// best-effort and never rolls it back.
	if err := r.dispatcher.Send(ctx, user, "", dispatch.KindConfirmation); err != nil {
		logger.Warn("confirmation send failed", "user_id", user.ID.String(), "error", err)
	}

	return OutcomeStored, nil
}

// sanitizeBody trims the reply down to the text the reader actually wrote:
// quoted history and everything after the "On ... wrote:" marker goes, and
// the result is capped at maxChars.
func sanitizeBody(text string, maxChars int) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		if strings.HasPrefix(trimmed, "On ") && strings.HasSuffix(trimmed, "wrote:") {
			break
		}
		kept = append(kept, line)
	}

	body := strings.TrimSpace(strings.Join(kept, "\n"))
	if len(body) > maxChars {
		// cut on a rune boundary; a split multibyte rune is invalid UTF-8
		// and the store would reject it
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = strings.TrimSpace(body[:cut])
	}
	return body
}
