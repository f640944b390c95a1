package compose

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailspool/internal/directory"
	"mailspool/internal/render"
)

type fakeDirectory struct {
	users  map[int64]directory.User
	realms map[int64]directory.Realm
}

func (d *fakeDirectory) Users(_ context.Context, ids []int64) ([]directory.User, error) {
	var out []directory.User
	for _, id := range ids {
		u, ok := d.users[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", directory.ErrUserNotFound, id)
		}
		out = append(out, u)
	}
	return out, nil
}

func (d *fakeDirectory) Realm(_ context.Context, id int64) (directory.Realm, error) {
	r, ok := d.realms[id]
	if !ok {
		return directory.Realm{}, fmt.Errorf("%w: id %d", directory.ErrRealmNotFound, id)
	}
	return r, nil
}

type fakeRenderer struct{}

func (fakeRenderer) Render(name string, ctx map[string]any) (render.Rendered, error) {
	return render.Rendered{
		Subject: "subject for " + name,
		Text:    fmt.Sprintf("text %v", ctx["activate_url"]),
		HTML:    fmt.Sprintf("<p>html %v</p>", ctx["activate_url"]),
	}, nil
}

func testComposer() *Composer {
	return &Composer{
		Renderer: fakeRenderer{},
		Inliner:  render.PassthroughInliner{},
		Directory: &fakeDirectory{
			users: map[int64]directory.User{
				1: {ID: 1, RealmID: 10, Email: "ada@example.com", FullName: "Ada Lovelace", Language: "en-GB"},
				2: {ID: 2, RealmID: 10, Email: "bob@example.com", FullName: "Bob", Language: "de"},
				3: {ID: 3, RealmID: 20, Email: "eve@other.example", FullName: "Eve"},
			},
			realms: map[int64]directory.Realm{
				10: {ID: 10, Name: "Acme", URL: "https://acme.example.com", DefaultLanguage: "en"},
				20: {ID: 20, Name: "Other", URL: "https://other.example", DefaultLanguage: "fr"},
			},
		},
		Log: zap.NewNop(),

		NoreplyAddress:     "noreply@example.com",
		NoreplyDisplayName: "Example notifications",
		TokenizedNoreply:   true,
		SupportEmail:       "support@example.com",
		ImageBaseURL:       "https://example.com/images",
		DefaultLanguage:    "en",
	}
}

func TestComposeRejectsMixedAndEmptyRecipients(t *testing.T) {
	c := testComposer()
	ctx := context.Background()

	var invalid *InvalidArgumentError

	_, err := c.Compose(ctx, "welcome", Recipients{}, nil, Options{})
	require.ErrorAs(t, err, &invalid)

	_, err = c.Compose(ctx, "welcome", Recipients{
		UserIDs:   []int64{1},
		Addresses: []string{"x@example.com"},
	}, nil, Options{})
	require.ErrorAs(t, err, &invalid)
}

func TestComposeRejectsCrossRealmRecipients(t *testing.T) {
	c := testComposer()

	var invalid *InvalidArgumentError
	_, err := c.Compose(context.Background(), "welcome", Recipients{UserIDs: []int64{1, 3}}, nil, Options{})
	require.ErrorAs(t, err, &invalid)

	// an explicit realm resolves the ambiguity
	_, err = c.Compose(context.Background(), "welcome", Recipients{UserIDs: []int64{1, 3}}, nil, Options{RealmID: 10})
	require.NoError(t, err)
}

func TestComposeBareAddressWithActivateURL(t *testing.T) {
	c := testComposer()

	msg, err := c.Compose(context.Background(), "confirm_registration",
		Recipients{Addresses: []string{"a@example.com"}},
		map[string]any{"activate_url": "https://x/y"},
		Options{},
	)
	require.NoError(t, err)

	assert.Contains(t, msg.Text, "https://x/y")
	assert.Contains(t, msg.HTML, "https://x/y")
	assert.Equal(t, []string{"a@example.com"}, msg.To)

	// tokenized no-reply sender when none was given
	assert.Regexp(t, `<noreply-[0-9a-f]{16}@example\.com>$`, msg.From)
	assert.Equal(t, "noreply@example.com", msg.ReplyTo)
}

func TestComposeUserRecipientsFormattedAddresses(t *testing.T) {
	c := testComposer()

	msg, err := c.Compose(context.Background(), "welcome", Recipients{UserIDs: []int64{1, 2}}, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		`"Ada Lovelace" <ada@example.com>`,
		`"Bob" <bob@example.com>`,
	}, msg.To)
	assert.Equal(t, "All", msg.Headers["X-Auto-Response-Suppress"])
	assert.Equal(t, "Acme <acme.example.com>", msg.Headers["List-Id"])
}

func TestComposeAddressLengthFallback(t *testing.T) {
	longName := strings.Repeat("Long Name ", 40) // well past 320 bytes formatted

	assert.Equal(t, "ada@example.com", formatAddress(longName, "ada@example.com"))
	assert.Equal(t, `"Ada" <ada@example.com>`, formatAddress("Ada", "ada@example.com"))
}

func TestComposeUnsubscribeHeaders(t *testing.T) {
	c := testComposer()
	tctx := map[string]any{"unsubscribe_link": "https://example.com/unsub/abc"}

	msg, err := c.Compose(context.Background(), "digest", Recipients{UserIDs: []int64{1}}, tctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "<https://example.com/unsub/abc>", msg.Headers["List-Unsubscribe"])
	assert.Equal(t, "List-Unsubscribe=One-Click", msg.Headers["List-Unsubscribe-Post"])

	// remote-server contact class: no one-click header
	msg, err = c.Compose(context.Background(), "digest", Recipients{UserIDs: []int64{1}}, tctx, Options{RemoteServer: true})
	require.NoError(t, err)
	assert.Equal(t, "<https://example.com/unsub/abc>", msg.Headers["List-Unsubscribe"])
	_, ok := msg.Headers["List-Unsubscribe-Post"]
	assert.False(t, ok)
}

func TestComposeLanguageSelection(t *testing.T) {
	c := testComposer()

	// explicit override wins
	lang := c.chooseLanguage("welcome", nil, nil, Options{Language: "pl"})
	assert.Equal(t, "pl", lang)

	// a sole user recipient supplies the language
	users, err := c.Directory.Users(context.Background(), []int64{1})
	require.NoError(t, err)
	lang = c.chooseLanguage("welcome", users, &directory.Realm{DefaultLanguage: "en"}, Options{})
	assert.Equal(t, "en-GB", lang)

	// multi-recipient sends fall back to the realm default
	users, err = c.Directory.Users(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	lang = c.chooseLanguage("welcome", users, &directory.Realm{DefaultLanguage: "de"}, Options{})
	assert.Equal(t, "de", lang)
}

func TestComposeExplicitSenderKept(t *testing.T) {
	c := testComposer()

	msg, err := c.Compose(context.Background(), "welcome",
		Recipients{Addresses: []string{"a@example.com"}},
		nil,
		Options{FromName: "Support Team", FromAddress: "people@example.com", ReplyTo: "help@example.com"},
	)
	require.NoError(t, err)
	assert.Equal(t, `"Support Team" <people@example.com>`, msg.From)
	assert.Equal(t, "help@example.com", msg.ReplyTo)
}
