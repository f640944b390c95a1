package compose

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"mailspool/internal/directory"
	"mailspool/internal/render"
)

// Practical From/To header limit enforced by common transactional-email
// providers. Formatted addresses over this fall back to the bare address.
const maxAddressBytes = 320

// InvalidArgumentError reports a malformed compose call: empty or mixed
// recipients, or recipients spanning realms without an explicit realm.
// Never retried.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "compose: " + e.Reason
}

func invalidArg(format string, args ...any) error {
	return &InvalidArgumentError{Reason: fmt.Sprintf(format, args...)}
}

// Recipients is who the message goes to. Exactly one form is populated
// per call.
type Recipients struct {
	UserIDs   []int64
	Addresses []string
}

// Options tunes a single compose call. Zero values fall back to the
// composer's configured defaults.
type Options struct {
	FromName    string `json:"from_name,omitempty"`
	FromAddress string `json:"from_address,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
	Language    string `json:"language,omitempty"`
	RealmID     int64  `json:"realm_id,omitempty"`

	// RemoteServer marks the remote-server contact class, which must
	// not get the one-click List-Unsubscribe-Post header.
	RemoteServer bool `json:"remote_server,omitempty"`
}

// Message is a fully formed outgoing email, ready for the transport.
type Message struct {
	Subject string
	Text    string
	HTML    string
	From    string
	ReplyTo string
	To      []string
	Headers map[string]string
}

// Composer turns a template name, recipients and a context mapping into
// a Message. Pure transform apart from a warn log on a missing language
// choice.
type Composer struct {
	Renderer  render.Renderer
	Inliner   render.Inliner
	Directory directory.Directory
	Log       *zap.Logger

	NoreplyAddress     string
	NoreplyDisplayName string
	TokenizedNoreply   bool
	SupportEmail       string
	ImageBaseURL       string
	PhysicalAddress    string
	DefaultLanguage    string
}

// Compose builds a Message. Rendering happens here, at delivery time,
// so context resolved by reference (realm name, user names) is fresh.
func (c *Composer) Compose(
	ctx context.Context,
	template string,
	rcpt Recipients,
	tctx map[string]any,
	opts Options,
) (*Message, error) {

	hasUsers := len(rcpt.UserIDs) > 0
	hasAddresses := len(rcpt.Addresses) > 0
	if hasUsers == hasAddresses {
		return nil, invalidArg("exactly one of user ids or bare addresses required")
	}

	var (
		users []directory.User
		realm *directory.Realm
		err   error
	)

	if hasUsers {
		users, err = c.Directory.Users(ctx, rcpt.UserIDs)
		if err != nil {
			return nil, fmt.Errorf("compose: resolve users: %w", err)
		}
		realmID := opts.RealmID
		if realmID == 0 {
			for _, u := range users {
				if realmID == 0 {
					realmID = u.RealmID
					continue
				}
				if u.RealmID != realmID {
					return nil, invalidArg("recipients span multiple realms and no explicit realm was given")
				}
			}
		}
		r, err := c.Directory.Realm(ctx, realmID)
		if err != nil {
			return nil, fmt.Errorf("compose: resolve realm: %w", err)
		}
		realm = &r
	} else if opts.RealmID != 0 {
		r, err := c.Directory.Realm(ctx, opts.RealmID)
		if err != nil {
			return nil, fmt.Errorf("compose: resolve realm: %w", err)
		}
		realm = &r
	}

	language := c.chooseLanguage(template, users, realm, opts)

	merged := c.renderContext(tctx, language, realm)

	rendered, err := c.Renderer.Render(template, merged)
	if err != nil {
		return nil, err
	}

	html, err := c.Inliner.Inline(rendered.HTML)
	if err != nil {
		return nil, err
	}

	fromAddr := opts.FromAddress
	if fromAddr == "" {
		fromAddr = c.noreplyFrom()
	}
	fromName := opts.FromName
	if fromName == "" {
		fromName = c.NoreplyDisplayName
	}

	replyTo := opts.ReplyTo
	if replyTo == "" && c.isNoreply(fromAddr) {
		replyTo = c.NoreplyAddress
	}

	var to []string
	if hasUsers {
		for _, u := range users {
			to = append(to, formatAddress(u.FullName, u.Email))
		}
	} else {
		to = append(to, rcpt.Addresses...)
	}

	msg := &Message{
		Subject: rendered.Subject,
		Text:    rendered.Text,
		HTML:    html,
		From:    formatAddress(fromName, fromAddr),
		ReplyTo: replyTo,
		To:      to,
		Headers: map[string]string{
			"X-Auto-Response-Suppress": "All",
		},
	}

	if link, ok := tctx["unsubscribe_link"].(string); ok && link != "" {
		msg.Headers["List-Unsubscribe"] = "<" + link + ">"
		if !opts.RemoteServer {
			msg.Headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
		}
	}

	if realm != nil {
		msg.Headers["List-Id"] = listID(*realm)
	}

	return msg, nil
}

func (c *Composer) chooseLanguage(
	template string,
	users []directory.User,
	realm *directory.Realm,
	opts Options,
) string {
	if opts.Language != "" {
		return opts.Language
	}
	if len(users) == 1 && users[0].Language != "" {
		return users[0].Language
	}
	if len(users) > 1 {
		// Multi-recipient sends with no explicit language fall back to
		// the realm default; worth a trace in the logs but not fatal.
		c.Log.Warn("no language for multi-recipient send, using fallback",
			zap.String("template", template),
			zap.Int("recipients", len(users)),
		)
	}
	if realm != nil && realm.DefaultLanguage != "" {
		return realm.DefaultLanguage
	}
	return c.DefaultLanguage
}

func (c *Composer) renderContext(
	tctx map[string]any,
	language string,
	realm *directory.Realm,
) map[string]any {
	merged := make(map[string]any, len(tctx)+6)
	for k, v := range tctx {
		merged[k] = v
	}
	merged["support_email"] = c.SupportEmail
	merged["image_base_url"] = c.ImageBaseURL
	merged["physical_address"] = c.PhysicalAddress
	merged["language"] = language
	if realm != nil {
		merged["realm_name"] = realm.Name
		merged["realm_url"] = realm.URL
	}
	return merged
}

// noreplyFrom returns the configured no-reply address, minted with a
// single-use token in the local part when tokenization is on.
func (c *Composer) noreplyFrom() string {
	if !c.TokenizedNoreply {
		return c.NoreplyAddress
	}
	at := strings.LastIndex(c.NoreplyAddress, "@")
	if at < 0 {
		return c.NoreplyAddress
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return c.NoreplyAddress
	}
	token := hex.EncodeToString(raw[:])
	return c.NoreplyAddress[:at] + "-" + token + c.NoreplyAddress[at:]
}

func (c *Composer) isNoreply(addr string) bool {
	if addr == c.NoreplyAddress {
		return true
	}
	at := strings.LastIndex(c.NoreplyAddress, "@")
	if at < 0 {
		return false
	}
	local, domain := c.NoreplyAddress[:at], c.NoreplyAddress[at:]
	return strings.HasPrefix(addr, local+"-") && strings.HasSuffix(addr, domain)
}

// formatAddress renders "Display Name <addr>", dropping the display name
// when the encoded form would blow the 320-byte header limit.
func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	formatted := (&mail.Address{Name: name, Address: addr}).String()
	if len(formatted) > maxAddressBytes {
		return addr
	}
	return formatted
}

// listID derives the List-Id header from the realm: display name plus
// the realm's host.
func listID(realm directory.Realm) string {
	host := realm.URL
	if u, err := url.Parse(realm.URL); err == nil && u.Host != "" {
		host = u.Host
	}
	if realm.Name == "" {
		return "<" + host + ">"
	}
	return fmt.Sprintf("%s <%s>", realm.Name, host)
}
