package runtime

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestFileTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	store := FileTokenStore{Path: path}

	if _, err := store.Load(); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken before save, got %v", err)
	}
	tok := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: time.Unix(1700000000, 0).UTC()}
	if err := store.Save(tok); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode %v, want 0600", info.Mode().Perm())
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.RefreshToken != "refresh" || !got.Expiry.Equal(tok.Expiry) {
		t.Fatalf("unexpected token %+v", got)
	}
}

func TestNewTokenStore(t *testing.T) {
	if _, ok := NewTokenStore("/tmp/tok.json", "").(FileTokenStore); !ok {
		t.Fatalf("expected file store when a path is configured")
	}
	ks, ok := NewTokenStore("", "").(KeyringTokenStore)
	if !ok {
		t.Fatalf("expected keyring store by default")
	}
	if ks.account() != "default" {
		t.Fatalf("unexpected default account %q", ks.account())
	}
}

func TestLoadOAuthConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	creds := `{"installed":{"client_id":"id.apps.googleusercontent.com","client_secret":"secret",` +
		`"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token",` +
		`"redirect_uris":["http://localhost"]}}`
	if err := os.WriteFile(path, []byte(creds), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadOAuthConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ClientID != "id.apps.googleusercontent.com" || len(cfg.Scopes) != len(Scopes) {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := LoadOAuthConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

type memStore struct {
	saved []*oauth2.Token
}

func (m *memStore) Load() (*oauth2.Token, error) { return nil, ErrNoToken }

func (m *memStore) Save(tok *oauth2.Token) error {
	m.saved = append(m.saved, tok)
	return nil
}

type seqSource struct {
	toks []*oauth2.Token
}

func (s *seqSource) Token() (*oauth2.Token, error) {
	tok := s.toks[0]
	if len(s.toks) > 1 {
		s.toks = s.toks[1:]
	}
	return tok, nil
}

func TestSavingTokenSourcePersistsRefreshes(t *testing.T) {
	store := &memStore{}
	src := &savingTokenSource{
		base: &seqSource{toks: []*oauth2.Token{
			{AccessToken: "a"},
			{AccessToken: "a"},
			{AccessToken: "b"},
		}},
		store: store,
		last:  "a",
	}
	for i := 0; i < 3; i++ {
		if _, err := src.Token(); err != nil {
			t.Fatalf("token: %v", err)
		}
	}
	if len(store.saved) != 1 || store.saved[0].AccessToken != "b" {
		t.Fatalf("expected only the refreshed token to be saved, got %d", len(store.saved))
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("debug"); err != nil {
		t.Fatalf("debug: %v", err)
	}
	if _, err := NewLogger(""); err != nil {
		t.Fatalf("empty: %v", err)
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
