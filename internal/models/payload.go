package models

import (
	"encoding/json"
	"fmt"
)

// Payload carries everything needed to re-render a scheduled email at
// delivery time. Rendering is deliberately late-bound: names, URLs and
// realm settings are resolved when the record is claimed, not when it is
// scheduled, so the freshest values win.
//
// Exactly one of the per-kind sections is set, and it must match the
// owning record's Kind.
type Payload struct {
	Template    string `json:"template"`
	FromName    string `json:"from_name,omitempty"`
	FromAddress string `json:"from_address,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
	Language    string `json:"language,omitempty"`
	RealmID     int64  `json:"realm_id,omitempty"`

	Welcome    *WelcomeParams    `json:"welcome,omitempty"`
	Invitation *InvitationParams `json:"invitation,omitempty"`
	Digest     *DigestParams     `json:"digest,omitempty"`
	Custom     *CustomParams     `json:"custom,omitempty"`
}

type WelcomeParams struct {
	DayNumber         int    `json:"day_number"`
	GettingStartedURL string `json:"getting_started_url,omitempty"`
}

type InvitationParams struct {
	InviterName   string `json:"inviter_name,omitempty"`
	ActivateURL   string `json:"activate_url"`
	ExpiresInDays int    `json:"expires_in_days,omitempty"`
}

type DigestParams struct {
	UnreadCount int      `json:"unread_count"`
	NewStreams  []string `json:"new_streams,omitempty"`
	DigestURL   string   `json:"digest_url,omitempty"`
}

type CustomParams struct {
	Context map[string]any `json:"context,omitempty"`
}

// Validate checks that exactly one section is populated and that it
// matches kind.
func (p *Payload) Validate(kind Kind) error {
	if p.Template == "" {
		return fmt.Errorf("payload: missing template")
	}

	set := 0
	if p.Welcome != nil {
		set++
	}
	if p.Invitation != nil {
		set++
	}
	if p.Digest != nil {
		set++
	}
	if p.Custom != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("payload: expected exactly one params section, got %d", set)
	}

	var ok bool
	switch kind {
	case KindWelcome:
		ok = p.Welcome != nil
	case KindInvitationReminder:
		ok = p.Invitation != nil
	case KindDigest:
		ok = p.Digest != nil
	case KindCustom:
		ok = p.Custom != nil
	default:
		return fmt.Errorf("payload: unknown kind %q", kind)
	}
	if !ok {
		return fmt.Errorf("payload: kind %q without matching params section", kind)
	}

	return nil
}

// RenderContext flattens the populated section into the key/value mapping
// handed to the template renderer.
func (p *Payload) RenderContext() map[string]any {
	var section any
	switch {
	case p.Welcome != nil:
		section = p.Welcome
	case p.Invitation != nil:
		section = p.Invitation
	case p.Digest != nil:
		section = p.Digest
	case p.Custom != nil:
		if p.Custom.Context != nil {
			out := make(map[string]any, len(p.Custom.Context))
			for k, v := range p.Custom.Context {
				out[k] = v
			}
			return out
		}
		return map[string]any{}
	default:
		return map[string]any{}
	}

	raw, err := json.Marshal(section)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

// EncodePayload serializes p for the record's data column.
func EncodePayload(p *Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("payload encode: %w", err)
	}
	return raw, nil
}

// DecodePayload parses the record's data column and checks it against the
// record's kind.
func DecodePayload(data []byte, kind Kind) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("payload decode: %w", err)
	}
	if err := p.Validate(kind); err != nil {
		return nil, err
	}
	return &p, nil
}
