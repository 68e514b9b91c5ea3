package credential

import (
	"errors"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/golang-jwt/jwt/v5"

	"github.com/nhle/ticketdesk/internal/model"
)

func signToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"id": "u1"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func testSession(token string) model.Session {
	return model.Session{
		Token: token,
		User:  &model.User{ID: "u1", Name: "Ann", Email: "ann@example.com", Role: model.RoleDeveloper},
	}
}

func TestVaultRoundTrip(t *testing.T) {
	v := NewVault(keyring.NewArrayKeyring(nil))
	tok := signToken(t, time.Now().Add(time.Hour))

	if err := v.Save(testSession(tok)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := v.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Token != tok || got.UserID() != "u1" || got.User.Role != model.RoleDeveloper {
		t.Errorf("Load = %+v", got)
	}

	if err := v.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := v.Load(); !errors.Is(err, ErrNoSession) {
		t.Errorf("Load after Clear = %v, want ErrNoSession", err)
	}
	if err := v.Clear(); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestVaultLoadRejects(t *testing.T) {
	valid := signToken(t, time.Time{})

	tests := []struct {
		name  string
		items []keyring.Item
	}{
		{name: "empty keyring"},
		{
			name:  "token without user",
			items: []keyring.Item{{Key: tokenKey, Data: []byte(valid)}},
		},
		{
			name: "malformed user record",
			items: []keyring.Item{
				{Key: tokenKey, Data: []byte(valid)},
				{Key: userKey, Data: []byte("{not json")},
			},
		},
		{
			name: "user without id",
			items: []keyring.Item{
				{Key: tokenKey, Data: []byte(valid)},
				{Key: userKey, Data: []byte(`{"name":"Ann"}`)},
			},
		},
		{
			name: "expired token",
			items: []keyring.Item{
				{Key: tokenKey, Data: []byte(signToken(t, time.Now().Add(-time.Minute)))},
				{Key: userKey, Data: []byte(`{"_id":"u1"}`)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVault(keyring.NewArrayKeyring(tt.items))
			if _, err := v.Load(); !errors.Is(err, ErrNoSession) {
				t.Errorf("Load = %v, want ErrNoSession", err)
			}
		})
	}
}

func TestVaultTokenWithoutExpiry(t *testing.T) {
	v := NewVault(keyring.NewArrayKeyring([]keyring.Item{
		{Key: tokenKey, Data: []byte(signToken(t, time.Time{}))},
		{Key: userKey, Data: []byte(`{"id":"u7","role":"admin"}`)},
	}))
	s, err := v.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.UserID() != "u7" || !s.User.Role.IsAdmin() {
		t.Errorf("session = %+v", s.User)
	}
}

func TestVaultOpaqueToken(t *testing.T) {
	for _, token := range []string{"opaque-session-token", "a.b.c"} {
		v := NewVault(keyring.NewArrayKeyring([]keyring.Item{
			{Key: tokenKey, Data: []byte(token)},
			{Key: userKey, Data: []byte(`{"_id":"u1"}`)},
		}))
		s, err := v.Load()
		if err != nil {
			t.Fatalf("Load with token %q: %v", token, err)
		}
		if s.Token != token || s.UserID() != "u1" {
			t.Errorf("session = %+v", s)
		}
	}
}

func TestVaultSaveInactive(t *testing.T) {
	v := NewVault(keyring.NewArrayKeyring(nil))
	if err := v.Save(model.Session{Token: "t"}); !errors.Is(err, ErrNoSession) {
		t.Errorf("Save without user = %v, want ErrNoSession", err)
	}
}
