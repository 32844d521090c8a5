package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarafosh/NFC-Card-Germany/internal/api/http"
	"github.com/omarafosh/NFC-Card-Germany/internal/auth"
	"github.com/omarafosh/NFC-Card-Germany/internal/bridge"
	"github.com/omarafosh/NFC-Card-Germany/internal/hardware/hardwaretest"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
)

const testSecret = "test-secret-32-characters-long!!"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "application.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	t.Setenv("NFC_SIGNATURE_SECRET", testSecret)
	t.Setenv("DATABASE_URL", "postgres://bridge@localhost/dashboard")
	path := writeConfig(t, `
log:
  level: DEBUG
hardware:
  transport: hid
  vendor_id: 0x072F
  poll_interval: 250ms
heartbeat:
  interval: 3s
http:
  enabled: true
  token_secret: monitor-secret
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Log.Level)
	assert.Equal(t, testSecret, cfg.Signature.Secret)
	assert.Equal(t, "postgres://bridge@localhost/dashboard", cfg.Remote.URL)
	assert.Equal(t, TRANSPORT_HID, cfg.Hardware.Transport)
	assert.Equal(t, uint16(0x072F), cfg.Hardware.VendorID)
	assert.Equal(t, 250*time.Millisecond, cfg.Hardware.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Heartbeat.Interval)
	assert.True(t, cfg.Http.Enabled)
	assert.Equal(t, "monitor-secret", cfg.Http.Auth.Secret)
	assert.Equal(t, 24*time.Hour, cfg.Http.Auth.Expiry)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: INFO\n"))
	require.NoError(t, err)

	assert.Equal(t, DRIVER_POSTGRES, cfg.Remote.Driver)
	assert.Equal(t, "public", cfg.Remote.Schema)
	assert.Equal(t, TRANSPORT_PCSC, cfg.Hardware.Transport)
	assert.Equal(t, 4, cfg.Hardware.AccessBlock)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 800*time.Millisecond, cfg.Hardware.VerifyTimeout)
	assert.Equal(t, 3, cfg.Sync.ScanAttempts)
	assert.Equal(t, time.Second, cfg.Sync.ScanBaseDelay)
	assert.Equal(t, "127.0.0.1:8765", cfg.Http.Address)
	assert.False(t, cfg.Http.Enabled)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestValidate(t *testing.T) {
	valid := Config{
		Signature: SignatureConfig{Secret: testSecret},
		Hardware:  HardwareConfig{Transport: TRANSPORT_PCSC},
		Remote:    RemoteConfig{Driver: DRIVER_MEMORY},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
		target error
	}{
		{name: "valid memory driver", mutate: func(*Config) {}},
		{name: "postgres with url", mutate: func(c *Config) {
			c.Remote = RemoteConfig{Driver: DRIVER_POSTGRES, URL: "postgres://localhost/db"}
		}},
		{name: "missing secret", mutate: func(c *Config) { c.Signature.Secret = "" }, field: "signature.secret", target: signature.ErrMissingSecret},
		{name: "weak secret", mutate: func(c *Config) { c.Signature.Secret = "short" }, field: "signature.secret", target: signature.ErrWeakSecret},
		{name: "unknown transport", mutate: func(c *Config) { c.Hardware.Transport = "serial" }, field: "hardware.transport", target: errUnknownTransport},
		{name: "unknown driver", mutate: func(c *Config) { c.Remote.Driver = "sqlite" }, field: "remote.driver", target: errUnknownDriver},
		{name: "postgres without url", mutate: func(c *Config) { c.Remote.Driver = DRIVER_POSTGRES }, field: "remote.url", target: errMissingURL},
		{name: "open status api on loopback", mutate: func(c *Config) {
			c.Http = http.Config{Enabled: true, Address: "127.0.0.1:8765"}
		}},
		{name: "open status api on all interfaces", mutate: func(c *Config) {
			c.Http = http.Config{Enabled: true, Address: "0.0.0.0:8765"}
		}, field: "http.address", target: http.ErrInsecureBind},
		{name: "authenticated status api on all interfaces", mutate: func(c *Config) {
			c.Http = http.Config{Enabled: true, Address: ":8765", Auth: auth.Config{Secret: "status-secret"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestSyncConfigOverrides(t *testing.T) {
	cfg := syncConfig(7, SyncConfig{ScanAttempts: 5, UpdateBaseDelay: 250 * time.Millisecond})

	assert.Equal(t, int64(7), cfg.TerminalID)
	assert.Equal(t, 5, cfg.ScanPolicy.Attempts)
	assert.Equal(t, time.Second, cfg.ScanPolicy.BaseDelay)
	assert.Equal(t, 2, cfg.UpdatePolicy.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.UpdatePolicy.BaseDelay)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitFatal, exitCode(errors.New("store unreachable")))
	assert.Equal(t, exitConfig, exitCode(&ConfigurationError{Field: "remote.driver", Err: errUnknownDriver}))
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, "http:\n  token_secret: monitor-secret\n")
	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", path, "--subject", "kiosk-2"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.ValidateToken("monitor-secret", strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "kiosk-2", claims.Subject)
	assert.Equal(t, "monitor", claims.Role)
}

func TestTokenCommandWithoutSecret(t *testing.T) {
	path := writeConfig(t, "log:\n  level: ERROR\n")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--config", path})
	err := cmd.Execute()

	assert.Equal(t, exitConfig, exitCode(err))
}

func TestRunInjectorOnce(t *testing.T) {
	codec, err := signature.New(testSecret)
	require.NoError(t, err)
	transport := hardwaretest.NewTransport()
	reader := hardwaretest.NewReader("ACR122U")
	var out bytes.Buffer

	done := make(chan error, 1)
	go func() {
		done <- runInjector(context.Background(), &out, codec, bridge.DefaultCardAccess(), time.Second, transport, true)
	}()
	transport.Attach(reader)
	transport.Detect(reader, "04a1b2c3")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("injector did not stop after the first card")
	}
	assert.Contains(t, out.String(), "OK       04A1B2C3")
	assert.Contains(t, out.String(), "1 card(s) injected")
}
