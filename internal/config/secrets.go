package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const secretsService = "torva"

// ErrSecretNotFound is returned by Keychain.Get for an unset secret.
var ErrSecretNotFound = errors.New("secret not found")

// Keychain stores secrets outside the config file.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the secrets file at $XDG_DATA_HOME/torva/secrets.json.
func NewKeychain() Keychain {
	return secretsFile{path: secretsFilePath()}
}

func secretsFilePath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "torva", "secrets.json")
}

// secretsFile is a JSON object of service -> account -> value, readable only
// by its owner.
type secretsFile struct {
	path string
}

func (f secretsFile) read() (map[string]map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	var secrets map[string]map[string]string
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return secrets, nil
}

func (f secretsFile) Get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[service][account]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrSecretNotFound, service, account)
	}
	return val, nil
}

func (f secretsFile) Set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return err
	}
	if secrets == nil {
		secrets = make(map[string]map[string]string)
	}
	if secrets[service] == nil {
		secrets[service] = make(map[string]string)
	}
	secrets[service][account] = value

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// GetAPIToken returns the server API token. TORVA_API_TOKEN wins; otherwise
// the token is read from kc, and generated and stored on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok := os.Getenv("TORVA_API_TOKEN"); tok != "" {
		return tok, nil
	}
	tok, err := kc.Get(secretsService, "api_token")
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrSecretNotFound) {
		return "", err
	}
	tok = uuid.NewString()
	if err := kc.Set(secretsService, "api_token", tok); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return tok, nil
}
