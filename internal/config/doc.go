// Package config loads the swappilot configuration from a JSON or YAML file,
// an optional .env file and SWAPPILOT_ prefixed environment variables, and
// derives the immutable pipeline settings handed to the orchestrator.
package config
