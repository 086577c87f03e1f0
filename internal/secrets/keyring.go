// Package secrets holds the session token secrets and swaps them on reload,
// so a secret can be rotated without a restart.
package secrets

import (
	"errors"
	"fmt"
	"sync"
)

// Loader retrieves secret values by name.
type Loader func() (map[string]string, error)

// ErrNoSecret is returned when the loader yields no current secret.
var ErrNoSecret = errors.New("signing secret is not set")

// Keyring holds the current signing secret and the one it replaced. Tokens
// signed with either keep verifying until the next rotation.
type Keyring struct {
	mu          sync.RWMutex
	current     []byte
	previous    []byte
	loader      Loader
	currentKey  string
	previousKey string
}

// NewKeyring loads the secrets named currentKey and previousKey.
func NewKeyring(loader Loader, currentKey, previousKey string) (*Keyring, error) {
	k := &Keyring{loader: loader, currentKey: currentKey, previousKey: previousKey}
	if err := k.Reload(); err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return k, nil
}

// Static returns a keyring with a fixed secret that never reloads.
func Static(secret []byte) *Keyring {
	return &Keyring{current: secret}
}

// Current returns the secret new tokens are signed with.
func (k *Keyring) Current() []byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.current
}

// Keys returns the secrets accepted for verification, current first.
func (k *Keyring) Keys() [][]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if len(k.previous) == 0 {
		return [][]byte{k.current}
	}
	return [][]byte{k.current, k.previous}
}

// Reload calls the loader and swaps in the new secrets. On error, or when
// no current secret is found, the existing secrets are kept.
func (k *Keyring) Reload() error {
	if k.loader == nil {
		return nil
	}
	vals, err := k.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	current := vals[k.currentKey]
	if current == "" {
		return ErrNoSecret
	}
	k.mu.Lock()
	k.current = []byte(current)
	k.previous = []byte(vals[k.previousKey])
	k.mu.Unlock()
	return nil
}
