// Package config loads, normalizes, and validates the Sprocket TOML
// configuration. All path fields are expanded (including ~) and made
// absolute before any other component sees them.
package config
