// Package config provides configuration loading and validation for the voice assistant webhook.
// It handles YAML-based configuration layered over defaults, with environment overrides
// for the values the hosting platform injects (PORT, client id, session timeout).
package config
