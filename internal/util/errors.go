package util

import "fmt"

// ConfigurationError reports an invalid configuration value. It is raised at
// startup, never while serving a request.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}
