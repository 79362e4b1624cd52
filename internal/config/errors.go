package config

import "fmt"

// ConfigError reports a malformed or missing configuration option.
// It is always fatal: the plugin refuses to load rather than start with a
// partial configuration.
type ConfigError struct {
	Option string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s %s: %v", e.Option, e.Reason, e.Err)
	}
	return fmt.Sprintf("config: %s %s", e.Option, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
