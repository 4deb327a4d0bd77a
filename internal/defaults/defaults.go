// Package defaults provides embedded copies of the example config and
// environment files for the agenticops init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the example configuration file.
//
//go:embed config.example.yaml
var ConfigYAML []byte

// EnvExample lists the secrets the example configuration expects.
//
//go:embed env.example
var EnvExample []byte
