package http

import (
	"errors"
	"fmt"
	"net"

	"github.com/omarafosh/NFC-Card-Germany/internal/auth"
)

const DefaultAddress = "127.0.0.1:8765"

var ErrInsecureBind = errors.New("token_secret is required to listen beyond loopback")

type Config struct {
	Enabled     bool        `mapstructure:"enabled"`
	Address     string      `mapstructure:"address"`
	CORSOrigins []string    `mapstructure:"cors_origins"`
	Auth        auth.Config `mapstructure:",squash"`
}

// Validate refuses an unauthenticated status API on any address other
// hosts can reach.
func (c Config) Validate() error {
	if !c.Enabled || c.Auth.Secret != "" {
		return nil
	}
	if addr := c.address(); !isLoopback(addr) {
		return fmt.Errorf("%w: %s", ErrInsecureBind, addr)
	}
	return nil
}

func (c Config) address() string {
	if c.Address == "" {
		return DefaultAddress
	}
	return c.Address
}

// isLoopback reports whether addr binds only the loopback interface. An
// empty host binds every interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
