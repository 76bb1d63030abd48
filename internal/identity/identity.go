// Package identity implements the Identity component (§4.D): RS256 bearer
// JWT verification against each user's stored public key, plus the
// admin/persistent-storage/public-sharing guards.
package identity

import (
	"context"
	"crypto/x509"
	"encoding/pem"

	"github.com/golang-jwt/jwt/v5"

	"github.com/streamspace/sealskin/internal/broker"
	"github.com/streamspace/sealskin/internal/directory"
	"github.com/streamspace/sealskin/internal/types"
)

// Claims is the JWT payload shape this broker expects: only `sub` is read.
type Claims struct {
	jwt.RegisteredClaims
}

// Identity validates bearer tokens against the Directory's stored keys.
type Identity struct {
	dir directory.Directory
}

// New constructs an Identity bound to dir.
func New(dir directory.Directory) *Identity {
	return &Identity{dir: dir}
}

// Principal is the result of a successful Authenticate call.
type Principal struct {
	User     types.User
	Settings types.UserSettings
}

// Authenticate implements the exact extraction order from §4.D: read
// unverified claims, resolve the user, compute effective settings, reject
// disabled non-admin accounts, THEN verify the signature with that user's
// stored key.
func (id *Identity) Authenticate(ctx context.Context, tokenString string) (*Principal, error) {
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, broker.Unauthorized("malformed token")
	}
	claims, ok := unverified.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, broker.Unauthorized("token missing subject")
	}
	username := claims.Subject

	user, found, err := id.dir.GetUser(ctx, username)
	if err != nil {
		return nil, broker.Internal("lookup user", err)
	}
	if !found {
		return nil, broker.Unauthorized("unknown user")
	}

	settings, err := id.dir.EffectiveSettings(ctx, username)
	if err != nil {
		return nil, broker.Internal("compute effective settings", err)
	}
	if !user.IsAdmin && !settings.Active {
		return nil, broker.Unauthorized("account disabled")
	}

	pubKey, err := parsePublicKey(user.PublicKey)
	if err != nil {
		return nil, broker.Unauthorized("invalid stored public key")
	}

	_, err = jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, broker.Unauthorized("unexpected signing method")
		}
		return pubKey, nil
	})
	if err != nil {
		return nil, broker.Unauthorized("signature verification failed")
	}

	return &Principal{User: user, Settings: settings}, nil
}

// RequireAdmin additionally enforces is_admin.
func RequireAdmin(p *Principal) error {
	if !p.User.IsAdmin {
		return broker.Forbidden("admin privileges required")
	}
	return nil
}

// RequirePersistentStorage requires the effective persistent_storage
// setting; admins do NOT bypass this guard (§4.D, §9 Open Questions).
func RequirePersistentStorage(p *Principal) error {
	if !p.Settings.PersistentStorage {
		return broker.Forbidden("persistent storage disabled for this account")
	}
	return nil
}

// RequirePublicSharing requires the effective public_sharing setting;
// admins implicitly bypass this guard (§4.D, §9 Open Questions).
func RequirePublicSharing(p *Principal) error {
	if p.User.IsAdmin {
		return nil
	}
	if !p.Settings.PublicSharing {
		return broker.Forbidden("public sharing disabled for this account")
	}
	return nil
}

func parsePublicKey(pemStr string) (interface{}, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, broker.Internal("decode pem", nil)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, broker.Internal("parse public key", err)
	}
	return pub, nil
}
