package queue

import "time"

// OpKind is the mutation a queued entry replays.
type OpKind string

const (
	OpAdd      OpKind = "add"
	OpEdit     OpKind = "edit"
	OpDelete   OpKind = "delete"
	OpMove     OpKind = "move"
	OpShareMod OpKind = "share-mod"
)

// Entry is one pending mutation. Payload carries the operation's form
// fields with secret values already field-encrypted, so the queue never
// holds plaintext at rest. Entries for the same TargetID replay in
// creation order.
type Entry struct {
	ID          int64
	Kind        OpKind
	TargetID    string
	Payload     []byte
	CreatedAt   time.Time
	Attempts    int
	LastAttempt time.Time
	LastError   string
}

// DeadLetter is an entry retired after a non-retryable failure.
type DeadLetter struct {
	ID        int64
	EntryID   int64
	Kind      OpKind
	TargetID  string
	Payload   []byte
	CreatedAt time.Time
	FailedAt  time.Time
	Reason    string
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Applied      int
	Deferred     int // retryable failures left pending
	DeadLettered int
	// Errors carries the non-retryable failures for caller visibility.
	Errors []error
}
