package keys

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewStore(t *testing.T) {
	t.Setenv("MASKOPT_CONFIG_DIR", t.TempDir())
	store, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if store.Path() == "" {
		t.Error("Store.Path() should not be empty")
	}
}

func TestServerKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"wss://Gen.Example.com/ws", "gen.example.com"},
		{"ws://localhost:8005/ws", "localhost:8005"},
		{"gen.example.com", "gen.example.com"},
		{"  GEN.example.com ", "gen.example.com"},
	}

	for _, tt := range tests {
		if got := ServerKey(tt.in); got != tt.want {
			t.Errorf("ServerKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	tmpDir := t.TempDir()
	store := NewStoreInDir(tmpDir)

	if err := store.Set("wss://gen.example.com/ws", "tok-1234567890"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	info, err := os.Stat(filepath.Join(tmpDir, "tokens.json"))
	if err != nil {
		t.Fatalf("tokens.json not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("tokens.json permissions = %v, want 0600", info.Mode().Perm())
	}

	// lookups normalize the server the same way as Set
	token, err := store.Get("gen.example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token != "tok-1234567890" {
		t.Errorf("Get() = %v, want tok-1234567890", token)
	}

	token, err = store.Get("other.example.com")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token != "" {
		t.Errorf("Get(non-existent) = %v, want empty string", token)
	}

	servers, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(servers) != 1 || servers[0] != "gen.example.com" {
		t.Errorf("List() = %v, want [gen.example.com]", servers)
	}

	if err := store.Delete("wss://gen.example.com/other"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if token, _ := store.Get("gen.example.com"); token != "" {
		t.Errorf("Get() after Delete() = %v, want empty string", token)
	}
	if err := store.Delete("gen.example.com"); err == nil {
		t.Error("Delete(non-existent) should return error")
	}
}

func TestStore_CorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	os.WriteFile(filepath.Join(tmpDir, "tokens.json"), []byte("{not json"), 0600)
	store := NewStoreInDir(tmpDir)

	if _, err := store.Get("x"); err == nil {
		t.Error("Get() on corrupt file should return error")
	}
}

func TestMaskToken(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"tok-1234567890abcd", "tok-**********abcd"},
		{"short", "*****"},
		{"12345678", "********"},
		{"123456789", "1234*6789"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := MaskToken(tt.token); got != tt.want {
			t.Errorf("MaskToken(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestResolveToken_Priority(t *testing.T) {
	store := NewStoreInDir(t.TempDir())
	store.Set("gen.example.com", "stored")

	tests := []struct {
		name       string
		store      *Store
		explicit   string
		env        string
		wantToken  string
		wantSource string
	}{
		{"explicit wins", store, "flag", "env", "flag", "command-line flag"},
		{"stored before env", store, "", "env", "stored", "stored token (" + store.Path() + ")"},
		{"env fallback", NewStoreInDir(t.TempDir()), "", "env", "env", "environment variable (MASKOPT_TOKEN)"},
		{"nothing", nil, "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, source := ResolveToken(tt.store, tt.explicit, "wss://gen.example.com/ws", tt.env)
			if token != tt.wantToken || source != tt.wantSource {
				t.Errorf("ResolveToken() = (%q, %q), want (%q, %q)", token, source, tt.wantToken, tt.wantSource)
			}
		})
	}
}
