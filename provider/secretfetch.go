package provider

import (
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// SecretSource resolves a named credential to its value.
type SecretSource interface {
	Get(name string) (string, error)
}

// EnvSecretSource reads credentials from environment variables.
type EnvSecretSource struct{}

func (EnvSecretSource) Get(name string) (string, error) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %q not set in environment", name)
}

// KeyringSecretSource reads credentials from the OS keychain under a fixed
// service name, matching the teacher's credential-store placement.
type KeyringSecretSource struct {
	Service string
}

func (k KeyringSecretSource) Get(name string) (string, error) {
	v, err := keyring.Get(k.Service, name)
	if err != nil {
		return "", fmt.Errorf("secret %q not found in keyring: %w", name, err)
	}
	return v, nil
}

// CompositeSecretSource tries each source in order, returning the first hit.
// Env takes priority over keyring so an operator override always wins.
type CompositeSecretSource struct {
	Sources []SecretSource
}

// NewDefaultSecretSource builds the standard env-then-keyring chain used to
// resolve provider API keys (§6.5's credential lookup).
func NewDefaultSecretSource(keyringService string) *CompositeSecretSource {
	return &CompositeSecretSource{
		Sources: []SecretSource{
			EnvSecretSource{},
			KeyringSecretSource{Service: keyringService},
		},
	}
}

func (c *CompositeSecretSource) Get(name string) (string, error) {
	var lastErr error
	for _, s := range c.Sources {
		v, err := s.Get(name)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("secret %q not found: no sources configured", name)
	}
	return "", lastErr
}
