// Package config defines the application configuration structure and its
// loading/validation logic. Configuration comes from an optional YAML file
// and ECHONOTE_-prefixed environment variables, with the environment taking
// precedence.
package config
