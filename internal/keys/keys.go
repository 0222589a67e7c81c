package keys

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/manash/maskopt/internal/config"
)

// Store handles server auth token storage and retrieval
type Store struct {
	configDir string
}

// TokenEntry represents a stored auth token
type TokenEntry struct {
	Token string `json:"token"`
}

// Tokens represents the tokens.json structure, keyed by server host
type Tokens map[string]TokenEntry

// NewStore creates a token store in the maskopt config directory
func NewStore() (*Store, error) {
	configDir, err := config.Dir()
	if err != nil {
		return nil, err
	}
	return &Store{configDir: configDir}, nil
}

// NewStoreInDir creates a token store rooted at dir
func NewStoreInDir(dir string) *Store {
	return &Store{configDir: dir}
}

// Path returns the path to the tokens.json file
func (s *Store) Path() string {
	return filepath.Join(s.configDir, "tokens.json")
}

// ServerKey normalizes a server URL or bare host to the key tokens are stored under
func ServerKey(server string) string {
	server = strings.TrimSpace(server)
	if u, err := url.Parse(server); err == nil && u.Host != "" {
		return strings.ToLower(u.Host)
	}
	return strings.ToLower(server)
}

func (s *Store) load() (Tokens, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(Tokens), nil
		}
		return nil, err
	}

	var tokens Tokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse tokens.json: %w", err)
	}
	return tokens, nil
}

func (s *Store) save(tokens Tokens) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}

	// owner read/write only
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write tokens.json: %w", err)
	}
	return nil
}

// Set stores a token for the given server
func (s *Store) Set(server, token string) error {
	tokens, err := s.load()
	if err != nil {
		return err
	}
	tokens[ServerKey(server)] = TokenEntry{Token: token}
	return s.save(tokens)
}

// Get retrieves the token for the given server; a missing token is not an error
func (s *Store) Get(server string) (string, error) {
	tokens, err := s.load()
	if err != nil {
		return "", err
	}
	return tokens[ServerKey(server)].Token, nil
}

// Delete removes the token for the given server
func (s *Store) Delete(server string) error {
	tokens, err := s.load()
	if err != nil {
		return err
	}

	key := ServerKey(server)
	if _, ok := tokens[key]; !ok {
		return fmt.Errorf("no token found for %s", key)
	}

	delete(tokens, key)
	return s.save(tokens)
}

// List returns all servers with a stored token, sorted
func (s *Store) List() ([]string, error) {
	tokens, err := s.load()
	if err != nil {
		return nil, err
	}

	servers := make([]string, 0, len(tokens))
	for server := range tokens {
		servers = append(servers, server)
	}
	sort.Strings(servers)
	return servers, nil
}

// MaskToken returns a masked version of the token for display
func MaskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

// ResolveToken picks the auth token using the priority order:
// 1. Explicit token passed as argument (if non-empty)
// 2. Stored token for the server
// 3. Environment variable
// An empty result means the server is contacted without credentials.
func ResolveToken(store *Store, explicit, server, envValue string) (string, string) {
	if explicit != "" {
		return explicit, "command-line flag"
	}

	if store != nil {
		if token, err := store.Get(server); err == nil && token != "" {
			return token, "stored token (" + store.Path() + ")"
		}
	}

	if envValue != "" {
		return envValue, "environment variable (MASKOPT_TOKEN)"
	}
	return "", ""
}
