package models

import "time"

type Kind string

const (
	KindWelcome            Kind = "welcome"
	KindInvitationReminder Kind = "invitation_reminder"
	KindDigest             Kind = "digest"
	KindCustom             Kind = "custom"
)

// ScheduledEmail is one durable "send no earlier than ScheduledAt" record.
// Exactly one recipient form is populated: either UserIDs (account holders)
// or Address (pre-account flows such as invitations).
type ScheduledEmail struct {
	ID          int64     `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Kind        Kind      `json:"kind"`
	Address     string    `json:"address,omitempty"`
	UserIDs     []int64   `json:"user_ids,omitempty"`
	Attempts    int       `json:"attempts"`
	Data        []byte    `json:"data"`

	CreatedAt time.Time `json:"created_at"`
}

// HasRecipients reports whether the record still addresses anyone.
// A record with neither form is an orphan and must not persist.
func (e *ScheduledEmail) HasRecipients() bool {
	return e.Address != "" || len(e.UserIDs) > 0
}
