package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/tripbook/internal/tripstore"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store backends.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Store  StoreConfig       `yaml:"store"`
	Images ImagesConfig      `yaml:"images"`
	Mirror MirrorConfig      `yaml:"mirror"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Images.Validate(); err != nil {
		return fmt.Errorf("images: %w", err)
	}
	if err := c.Mirror.Validate(); err != nil {
		return fmt.Errorf("mirror: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects and configures the trip record backend.
//
// Path is the data directory for "fs" and the database file for "sqlite";
// "memory" ignores it.
type StoreConfig struct {
	Backend string           `yaml:"backend"`
	Path    string           `yaml:"path"`
	Policy  tripstore.Policy `yaml:"policy"`
	Retry   RetryConfig      `yaml:"retry"`
	// ListThrottle is the minimum gap between two trips.changed SSE events.
	ListThrottle time.Duration `yaml:"list_throttle"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Policy == "" {
		c.Policy = tripstore.PolicyVersionCheck
	}
	policies := make([]any, len(tripstore.Policies))
	for i, p := range tripstore.Policies {
		policies[i] = p
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendFS, BackendSQLite, BackendMemory)),
		validation.Field(&c.Path, validation.When(c.Backend != BackendMemory, validation.Required)),
		validation.Field(&c.Policy, validation.In(policies...)),
		validation.Field(&c.ListThrottle, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	return c.Retry.Validate()
}

// RetryConfig bounds how long an edit session retries after a version
// conflict.
type RetryConfig struct {
	MaxAttempts     uint64        `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed"`
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.InitialInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxElapsed, validation.Min(time.Duration(0))),
	)
}

// Options converts the config to tripstore retry settings.
func (c RetryConfig) Options() tripstore.RetryConfig {
	return tripstore.RetryConfig{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxElapsed:      c.MaxElapsed,
	}
}

// ImagesConfig holds the directory uploaded destination images live in.
type ImagesConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the images configuration.
func (c *ImagesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// MirrorConfig points at the remote document store trips are shared to.
// An empty URL disables sharing.
type MirrorConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the mirror configuration.
func (c *MirrorConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// Enabled reports whether a mirror is configured.
func (c *MirrorConfig) Enabled() bool {
	return c.URL != ""
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Backend: BackendFS,
			Path:    "./data/trips",
			Policy:  tripstore.PolicyVersionCheck,
			Retry: RetryConfig{
				MaxAttempts:     tripstore.DefaultRetry.MaxAttempts,
				InitialInterval: tripstore.DefaultRetry.InitialInterval,
				MaxElapsed:      tripstore.DefaultRetry.MaxElapsed,
			},
			ListThrottle: 2 * time.Second,
		},
		Images: ImagesConfig{
			Dir: "./data/images",
		},
		Mirror: MirrorConfig{
			Timeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
