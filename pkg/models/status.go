package models

// SessionStatus represents the lifecycle state of a persisted batch snapshot
type SessionStatus string

const (
	SessionStatusUnset     SessionStatus = ""          // Zero value = unset/unknown
	SessionStatusAborted   SessionStatus = "aborted"   // Attempt failed, waiting for the next attempt
	SessionStatusExhausted SessionStatus = "exhausted" // Attempt ceiling reached, needs a manual resume
	SessionStatusCompleted SessionStatus = "completed" // All URLs resolved
	SessionStatusCorrupt   SessionStatus = "corrupt"   // Stored value cannot be decoded; only reported by listings
)

// String implements fmt.Stringer for logging
func (s SessionStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStatusAborted, SessionStatusExhausted, SessionStatusCompleted:
		return true
	}
	return false
}

// Resumable reports whether a snapshot in this state may be handed to a new attempt
func (s SessionStatus) Resumable() bool {
	return s == SessionStatusAborted || s == SessionStatusExhausted
}

// ExtractionPolicy decides what happens when a product page cannot be extracted
type ExtractionPolicy string

const (
	ExtractionPolicyBatchFatal ExtractionPolicy = "batch_fatal" // Abort and retry the batch remainder
	ExtractionPolicySkip       ExtractionPolicy = "skip"        // Report the URL as failed and continue
)

// IsValid returns true if the policy is known
func (p ExtractionPolicy) IsValid() bool {
	switch p {
	case ExtractionPolicyBatchFatal, ExtractionPolicySkip:
		return true
	}
	return false
}
