// Package config provides configuration loading and validation for the
// streaming transcription service. Values come from built-in defaults, an
// optional YAML file, a .env file and environment variables, in that order.
package config
