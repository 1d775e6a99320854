package internal

import (
	"io"

	"github.com/starford/tripbook/internal/kv"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	backend   kv.Backend
	logOutput io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithBackend makes the application use backend instead of opening the one
// named in the store config. The caller keeps ownership and closes it.
func WithBackend(backend kv.Backend) Option {
	return func(a *application) {
		a.backend = backend
	}
}

// WithLogOutput redirects the JSON log. The default is stdout for the HTTP
// server and stderr for the MCP server, whose stdout carries the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}
