// Package config loads gatekeeper's process configuration from the
// environment and optional dotenv files.
package config
