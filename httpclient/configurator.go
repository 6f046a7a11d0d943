package httpclient

import (
	"github.com/rs/zerolog"
)

// RequireHeaders is the bag extension asking the extractor to expose the
// response headers to the decoded value.
type RequireHeaders bool

// RequestConfigurator is the per-call configuration captured at the call
// site. It is an immutable value: every With method returns a copy.
//
// Values set explicitly on a configurator always win over the client-level
// LogConfig and the process-wide default.
//
// Example:
//
//	cfg := httpclient.NewRequestConfigurator("GetUser").
//	    WithLogLevel(zerolog.InfoLevel)
//
//	user, err := httpclient.Send[User](ctx,
//	    client.Request("").Configure(cfg).Path("/users/1"),
//	    http.MethodGet, httpclient.JSON)
type RequestConfigurator struct {
	target         string
	level          zerolog.Level
	hasLevel       bool
	requireHeaders bool
}

// NewRequestConfigurator returns a configurator naming the call target.
func NewRequestConfigurator(target string) RequestConfigurator {
	return RequestConfigurator{target: target}
}

// Target returns the log target name.
func (c RequestConfigurator) Target() string { return c.target }

// LogLevel returns the explicit log level, if one was set.
func (c RequestConfigurator) LogLevel() (zerolog.Level, bool) {
	return c.level, c.hasLevel
}

// RequireHeaders reports whether the response headers must reach the
// extractor.
func (c RequestConfigurator) RequireHeaders() bool { return c.requireHeaders }

// WithLogLevel overrides the log level of the call.
func (c RequestConfigurator) WithLogLevel(level zerolog.Level) RequestConfigurator {
	c.level, c.hasLevel = level, true
	return c
}

// WithLogEnabled is WithLogLevel with Debug for true and Disabled for false.
func (c RequestConfigurator) WithLogEnabled(enabled bool) RequestConfigurator {
	if enabled {
		return c.WithLogLevel(zerolog.DebugLevel)
	}
	return c.WithLogLevel(zerolog.Disabled)
}

// WithRequireHeaders sets whether the response headers must reach the
// extractor.
func (c RequestConfigurator) WithRequireHeaders(require bool) RequestConfigurator {
	c.requireHeaders = require
	return c
}

// Merge fills an empty target and adds the header requirement of the
// extractor. Explicit values already on c are kept.
func (c RequestConfigurator) Merge(target string, requireHeaders bool) RequestConfigurator {
	if c.target == "" {
		c.target = target
	}
	c.requireHeaders = c.requireHeaders || requireHeaders
	return c
}

// apply writes the configuration into the bag of the call.
func (c RequestConfigurator) apply(ext *Extensions) {
	if c.target != "" {
		SetExtension(ext, LogTarget(c.target))
	}
	if c.hasLevel {
		SetExtension(ext, LogConfig{Level: c.level})
	}
	if c.requireHeaders {
		SetExtension(ext, RequireHeaders(true))
	}
}
