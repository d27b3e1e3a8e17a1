// Package print2file provides the embedded build configuration for the
// tcp-print2file daemon.
//
// The root package exists solely to embed [print2file.toml] via [ConfigTOML].
// The daemon decodes it with config.Parse at startup; there is no runtime
// configuration file.
package print2file

import _ "embed"

// ConfigTOML holds the raw bytes of print2file.toml, embedded at build time.
//
//go:embed print2file.toml
var ConfigTOML []byte
