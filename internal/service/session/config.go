package session

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultMaxValidity = 35 * time.Minute
	DefaultMinValidity = 5 * time.Minute
)

// Session authority configuration
// Immutable once handed to the authority and the gate
type Config struct {
	// Key used for both token classes when the specific one is not set
	SharedKey []byte

	// Keys to sign access and refresh tokens
	AccessKey  []byte
	RefreshKey []byte

	// Access token is valid for MaxValidity after issue
	// If not set than default is used
	MaxValidity time.Duration

	// Session may not be refreshed again earlier than MinValidity after the last refresh
	// Zero is allowed and disables throttling
	MinValidity time.Duration

	// Sessions not refreshed for IdleTimeout are swept
	// Zero disables sweeping, refresh tokens then live until revoked
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxValidity: DefaultMaxValidity,
		MinValidity: DefaultMinValidity,
	}
}

// Key to sign and verify access tokens
func (c Config) AccessSigningKey() []byte {
	if len(c.AccessKey) > 0 {
		return c.AccessKey
	}
	return c.SharedKey
}

// Key to sign and verify refresh tokens
func (c Config) RefreshSigningKey() []byte {
	if len(c.RefreshKey) > 0 {
		return c.RefreshKey
	}
	return c.SharedKey
}

// Both token classes are signed with the same key
func (c Config) KeysShared() bool {
	return string(c.AccessSigningKey()) == string(c.RefreshSigningKey())
}

// Fill defaults and check the config is usable
func (c Config) withDefaults() (Config, error) {
	if c.MaxValidity == 0 {
		c.MaxValidity = DefaultMaxValidity
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error

	if len(c.AccessSigningKey()) == 0 {
		errs = append(errs, errors.New("access key must not be empty"))
	}
	if len(c.RefreshSigningKey()) == 0 {
		errs = append(errs, errors.New("refresh key must not be empty"))
	}
	if c.MinValidity < 0 {
		errs = append(errs, fmt.Errorf("min validity must not be negative, got %s", c.MinValidity))
	}
	if c.MinValidity >= c.MaxValidity {
		errs = append(errs, fmt.Errorf("min validity %s must be less than max validity %s", c.MinValidity, c.MaxValidity))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("idle timeout must not be negative, got %s", c.IdleTimeout))
	}
	// A client refreshing only when its access token expires must survive the sweep
	if c.IdleTimeout > 0 && c.IdleTimeout <= c.MaxValidity {
		errs = append(errs, fmt.Errorf("idle timeout %s must be greater than max validity %s", c.IdleTimeout, c.MaxValidity))
	}

	return errors.Join(errs...)
}
