package directory

import "context"

// User is the delivery-relevant slice of an account: where to send, what
// to call them, which realm owns them, which language they read.
type User struct {
	ID       int64
	RealmID  int64
	Email    string
	FullName string
	Language string
}

// Realm is an owning organization. URL feeds the List-Id header;
// DefaultLanguage is the rendering fallback for multi-recipient sends.
type Realm struct {
	ID              int64
	Name            string
	URL             string
	DefaultLanguage string
}

// Directory resolves user ids and realms for the composer. The rest of
// the system owns these tables; the mail pipeline only reads them.
type Directory interface {
	Users(ctx context.Context, ids []int64) ([]User, error)
	Realm(ctx context.Context, id int64) (Realm, error)
}
