// Package directory implements the Directory capability (§2 row B):
// resolving a username to its effective settings, group, and public key,
// backed by the file layout from the original user_manager.py.
package directory

import (
	"context"

	"github.com/streamspace/sealskin/internal/types"
)

// Directory resolves users and groups. Out of scope per SPEC_FULL.md §1
// ("user/group storage... treated as a Directory") beyond what LaunchEngine
// and Identity need to function; admin CRUD surfaces are not implemented.
type Directory interface {
	// GetUser returns the named user, or ok=false if absent.
	GetUser(ctx context.Context, username string) (types.User, bool, error)
	// EffectiveSettings applies the user's group overrides field-by-field
	// on top of the user's own settings, per §3.
	EffectiveSettings(ctx context.Context, username string) (types.UserSettings, error)
	// DeleteUser removes a user record. Callers are responsible for also
	// deleting owned home directories (§3 invariant).
	DeleteUser(ctx context.Context, username string) error
}

// effectiveSettings merges group overrides onto base, field by field,
// mirroring get_effective_settings in user_manager.py.
func effectiveSettings(base types.UserSettings, group *types.Group) types.UserSettings {
	if group == nil {
		return base
	}
	merged := base
	g := group.Settings
	merged.Active = g.Active
	merged.PersistentStorage = g.PersistentStorage
	merged.PublicSharing = g.PublicSharing
	merged.HardenContainer = g.HardenContainer
	merged.HardenOpenbox = g.HardenOpenbox
	merged.GPU = g.GPU
	merged.StorageLimit = g.StorageLimit
	merged.SessionLimit = g.SessionLimit
	return merged
}
