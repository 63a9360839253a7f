package store

import (
	"time"

	"github.com/google/uuid"
)

// User is a newsletter subscriber. Identity is the mail address plus the
// opaque ID; there is no login or session. The core never deletes users,
// it only flips Active.
type User struct {
	ID        uuid.UUID
	Email     string
	Prompt    string
	Active    bool
	CreatedAt time.Time
}

// FeedbackSource distinguishes the signup prompt from later email replies.
type FeedbackSource string

const (
	SourceInitial FeedbackSource = "initial"
	SourceReply   FeedbackSource = "reply"
)

// FeedbackEntry is one piece of customization text for a user. Entries are
// immutable once written and ordered by CreatedAt.
type FeedbackEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Body      string
	Source    FeedbackSource
	CreatedAt time.Time
}

// NewsletterStatus is the delivery state of one generated newsletter.
type NewsletterStatus string

const (
	StatusPending NewsletterStatus = "pending"
	StatusSent    NewsletterStatus = "sent"
	StatusFailed  NewsletterStatus = "failed"
)

// NewsletterRecord tracks one generation+delivery attempt for one user.
// A record is terminal once sent or failed; each run inserts a new one.
type NewsletterRecord struct {
	ID                  uuid.UUID
	UserID              uuid.UUID
	Body                string
	Status              NewsletterStatus
	ErrorDetail         string
	GenerationStartedAt time.Time
	DeliveredAt         *time.Time
}
