// Package paths centralizes file names and output path construction used
// across the project.
package paths

import (
	"path/filepath"
	"strconv"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

const (
	// BinaryName is the installed program name and the default syslog tag.
	BinaryName = "tcp-print2file"
	// ConfigFile is the build-time configuration embedded into the binary.
	ConfigFile = "print2file.toml"
	// FallbackStem precedes the random number of a fallback capture name.
	FallbackStem = "file-"
	// DevNull is where the daemon's standard streams point once detached.
	DevNull = "/dev/null"
)

// ///////////////////////////////////////////////
// OutputPrefix
// ///////////////////////////////////////////////

// OutputPrefix builds capture file paths by plain concatenation onto Prefix.
// A prefix ending in a separator ("/usb/tcp_fileprinter/") places captures
// inside that directory; one without ("/tmp/print") prefixes the file name.
type OutputPrefix struct {
	Prefix string
}

// Timestamped returns the capture path for a formatted timestamp token.
func (p OutputPrefix) Timestamped(stamp string) string { return p.Prefix + stamp }

// Fallback returns the capture path for a random fallback number.
func (p OutputPrefix) Fallback(n int) string {
	return p.Prefix + FallbackStem + strconv.Itoa(n)
}

// Dir returns the directory captures are written into.
func (p OutputPrefix) Dir() string { return filepath.Dir(p.Prefix + "x") }
