// Package main implements the genconfig tool that writes print2file.toml
// from config.DefaultConfig().
//
// It is invoked by go generate via the directive in internal/config/config.go.
// The generated file is embedded into the daemon at build time, so editing it
// (or the defaults) and rebuilding is the only way to change the listen
// endpoint or output directory of a binary.
package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kunfoo/tcp-print2file/internal/atomicfile"
	"github.com/kunfoo/tcp-print2file/internal/config"
)

func main() {
	out, err := render(config.DefaultConfig(), config.ConfigDocs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "render: %v\n", err)
		os.Exit(1)
	}

	// go generate runs from internal/config/; the embedding root package
	// lives two levels up. A torn file would break the next build.
	outPath := "../../print2file.toml"
	if err := atomicfile.Write(outPath, []byte(out), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", outPath, err)
		os.Exit(1)
	}
	fmt.Printf("wrote print2file.toml\n")
}

// render encodes cfg as TOML and annotates it with the comments in docs.
// Documented keys the encoder omitted (empty omitempty fields) are appended
// to their section as commented-out alternatives.
func render(cfg *config.Config, docs map[string]config.FieldDoc) (string, error) {
	raw, err := cfg.Encode()
	if err != nil {
		return "", err
	}

	out := []string{
		"# ///////////////////////////////////////////////",
		"# tcp-print2file build configuration",
		"# Embedded at build time; run `go generate ./...` after changing defaults.",
		"# ///////////////////////////////////////////////",
		"",
	}

	section := ""
	emitted := map[string]bool{}

	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "[") {
			out = appendOmitted(out, section, docs, emitted)
			section = strings.Trim(trimmed, "[] ")
			out = append(out, "", fmt.Sprintf("# ///// %s /////", sectionName(section)), "")
			out = appendComment(out, docs[section].Comment)
			out = append(out, trimmed)
			continue
		}

		key, _, ok := strings.Cut(trimmed, "=")
		if !ok {
			out = append(out, trimmed)
			continue
		}
		path := strings.TrimSpace(key)
		if section != "" {
			path = section + "." + path
		}
		emitted[path] = true

		doc := docs[path]
		out = appendComment(out, doc.Comment)
		out = append(out, trimmed)
		for _, alt := range doc.Alternatives {
			out = append(out, "# "+alt)
		}
	}
	out = appendOmitted(out, section, docs, emitted)

	return strings.TrimRight(strings.Join(out, "\n"), "\n") + "\n", nil
}

// appendComment appends each line of comment as a TOML comment.
func appendComment(out []string, comment string) []string {
	if comment == "" {
		return out
	}
	for _, l := range strings.Split(comment, "\n") {
		out = append(out, "# "+l)
	}
	return out
}

// appendOmitted appends the documented keys of section that were not
// emitted, sorted for deterministic output.
func appendOmitted(out []string, section string, docs map[string]config.FieldDoc, emitted map[string]bool) []string {
	if section == "" {
		return out
	}
	prefix := section + "."

	var omitted []string
	for path := range docs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(rest, ".") || emitted[path] {
			continue
		}
		omitted = append(omitted, path)
	}
	sort.Strings(omitted)

	for _, path := range omitted {
		doc := docs[path]
		out = append(out, "")
		out = appendComment(out, doc.Comment)
		for _, alt := range doc.Alternatives {
			out = append(out, "# "+alt)
		}
		emitted[path] = true
	}
	return out
}

// sectionName capitalizes the last dotted segment of a section header:
// "daemon" yields "Daemon".
func sectionName(section string) string {
	parts := strings.Split(section, ".")
	last := parts[len(parts)-1]
	if last == "" {
		return ""
	}
	return strings.ToUpper(last[:1]) + last[1:]
}
