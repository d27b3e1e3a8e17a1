package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated print2file.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "listen.port") to
// their [FieldDoc] entries.
var ConfigDocs = map[string]FieldDoc{
	"version": {
		Comment: "Config schema version, do not edit.",
	},

	// ── Listen ───────────────────────────────────────────────────
	"listen": {
		Comment: "Endpoint the print spooler connects to, e.g. CUPS device URI socket://127.0.0.1:12345",
	},
	"listen.address": {
		Comment: "Literal IP address. Host names are not resolved.",
	},
	"listen.port":    {},
	"listen.backlog": {
		Comment: "Connections the kernel queues while a job is being captured.",
	},

	// ── Output ───────────────────────────────────────────────────
	"output.dir": {
		Comment: "Prefix of every capture path. Keep the trailing slash to write into a directory.\nThe directory is not created by the daemon.",
		Alternatives: []string{
			`dir = "/tmp/print"`,
		},
	},
	"output.chunk_size": {
		Comment: "Copy buffer size in bytes.",
	},
	"output.file_mode": {
		Comment: "Octal permission of capture files. The daemon runs with umask 0.",
	},

	// ── Daemon ───────────────────────────────────────────────────
	"daemon.work_dir": {
		Comment: "Working directory after detaching.",
	},
	"daemon.pid_file": {
		Comment: "Locked PID file preventing a second instance. Disabled when unset.",
		Alternatives: []string{
			`pid_file = "/run/tcp-print2file.pid"`,
		},
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment: "trace, debug, info, notice, warn, or error",
	},
	"log.syslog": {
		Comment: "Send diagnostics to the system log (facility daemon).",
	},
	"log.tag": {
		Comment: "Syslog identity. Defaults to the program name.",
		Alternatives: []string{
			`tag = "print2file"`,
		},
	},
	"log.file": {
		Comment: "Optional rotating log file in addition to syslog.",
		Alternatives: []string{
			`file = "/var/log/tcp-print2file.log"`,
		},
	},
	"log.max_size_mb": {},
}
