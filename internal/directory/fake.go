package directory

import (
	"context"

	"github.com/streamspace/sealskin/internal/broker"
	"github.com/streamspace/sealskin/internal/types"
)

// Fake is an in-memory Directory for component tests.
type Fake struct {
	Users map[string]types.User
}

// NewFake constructs an empty Fake directory.
func NewFake() *Fake {
	return &Fake{Users: make(map[string]types.User)}
}

// Put inserts or replaces a user.
func (f *Fake) Put(u types.User) {
	f.Users[u.Username] = u
}

func (f *Fake) GetUser(ctx context.Context, username string) (types.User, bool, error) {
	u, ok := f.Users[username]
	return u, ok, nil
}

func (f *Fake) EffectiveSettings(ctx context.Context, username string) (types.UserSettings, error) {
	u, ok := f.Users[username]
	if !ok {
		return types.UserSettings{}, broker.NotFound("unknown user")
	}
	return u.Settings, nil
}

func (f *Fake) DeleteUser(ctx context.Context, username string) error {
	if _, ok := f.Users[username]; !ok {
		return broker.NotFound("unknown user")
	}
	delete(f.Users, username)
	return nil
}

var _ Directory = (*Fake)(nil)
