package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/99designs/keyring"
	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/ticketdesk/internal/model"
)

const serviceName = "ticketdesk"

const (
	tokenKey = "session.token"
	userKey  = "session.user"
)

// ErrNoSession means there is no usable persisted session: nothing was
// stored, the stored user record is malformed, or the token is a JWT
// that has expired.
// Callers treat it as "not logged in".
var ErrNoSession = errors.New("no stored session")

// Open returns the system keyring configured for ticketdesk.
func Open() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/ticketdesk/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("ticketdesk-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Vault persists the bearer token and user record between runs.
type Vault struct {
	ring keyring.Keyring
	now  func() time.Time
}

// NewVault wraps ring. Tests pass keyring.NewArrayKeyring(nil).
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring, now: time.Now}
}

// Save stores the session's token and serialized user record.
func (v *Vault) Save(s model.Session) error {
	if !s.Active() {
		return fmt.Errorf("saving session: %w", ErrNoSession)
	}
	user, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("encoding user record: %w", err)
	}
	if err := v.ring.Set(keyring.Item{Key: tokenKey, Data: []byte(s.Token)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", tokenKey, err)
	}
	if err := v.ring.Set(keyring.Item{Key: userKey, Data: user}); err != nil {
		return fmt.Errorf("setting credential %q: %w", userKey, err)
	}
	return nil
}

// Load reads the persisted session. Missing or malformed entries and
// expired tokens yield ErrNoSession; keyring failures are returned as is.
func (v *Vault) Load() (model.Session, error) {
	token, err := v.get(tokenKey)
	if err != nil {
		return model.Session{}, err
	}
	raw, err := v.get(userKey)
	if err != nil {
		return model.Session{}, err
	}

	var user model.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return model.Session{}, fmt.Errorf("%w: malformed user record: %v", ErrNoSession, err)
	}

	s := model.Session{Token: string(token), User: &user}
	if !s.Active() {
		return model.Session{}, ErrNoSession
	}
	if err := v.checkExpiry(s.Token); err != nil {
		return model.Session{}, err
	}
	return s, nil
}

// Clear removes any stored session. Missing entries are not an error.
func (v *Vault) Clear() error {
	for _, key := range []string{tokenKey, userKey} {
		if err := v.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", key, err)
		}
	}
	return nil
}

func (v *Vault) get(key string) ([]byte, error) {
	item, err := v.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", key, err)
	}
	return item.Data, nil
}

// checkExpiry decodes the token's claims without verifying the
// signature, which only the backend can do, and rejects JWTs whose exp
// has passed. Opaque tokens and JWTs without a readable exp pass; the
// backend rejects them on first use if they are no good.
func (v *Vault) checkExpiry(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !exp.After(v.now()) {
		return fmt.Errorf("%w: token expired at %s", ErrNoSession, exp.Format(time.RFC3339))
	}
	return nil
}
