// Package seatbelt generates macOS sandbox-exec SBPL profiles from a
// policy's sandbox fragment (spec.md §4.5 "Seatbelt profile generator"),
// adapted from the Chrome-derived profile shape in the sandbox-macos
// reference implementation this package is grounded on.
package seatbelt

import (
	"fmt"
	"regexp"
	"strings"
)

// Fragment is the subset of a policy's sandbox profile fragment the
// generator consumes (spec.md §3 Policy "sandbox profile fragment").
type Fragment struct {
	AllowedReadPaths  []string
	DeniedReadPaths   []string
	AllowedWritePaths []string
	AllowedHosts      []string
	AllowedPorts      []int
	NetworkAllowed    bool
	AllowedBinaries   []string
	DeniedBinaries    []string
	SocketDirs        []string // broker socket directories, always allow-listed
	RawProfileContent string   // caller-supplied override; bypasses generation entirely
}

// defaultWritePaths are always writable regardless of policy, matching the
// reference implementation's TMPDIR/system scratch allowances.
var defaultWritePaths = []string{"/tmp", "/private/tmp", "/var/folders"}

var globChars = regexp.MustCompile(`[*?]`)

// escape quotes a literal for SBPL string contexts per spec.md §4.5 Input
// escaping: `"` -> `\"`, `\` -> `\\`.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func quoted(s string) string {
	return `"` + escape(s) + `"`
}

// globToRegex converts a doublestar-style glob into an SBPL (regex ...)
// body, longest-pattern-first so "**" is rewritten before a bare "*".
func globToRegex(glob string) string {
	escaped := regexp.QuoteMeta(glob)
	escaped = strings.ReplaceAll(escaped, `\*\*/`, "(.*/)?")
	escaped = strings.ReplaceAll(escaped, `\*\*`, ".*")
	escaped = strings.ReplaceAll(escaped, `\*`, "[^/]*")
	escaped = strings.ReplaceAll(escaped, `\?`, "[^/]")
	return "^" + escaped + "$"
}

func pathRule(verb, path string) string {
	if globChars.MatchString(path) {
		return fmt.Sprintf("(%s (regex %s))", verb, quoted(globToRegex(path)))
	}
	return fmt.Sprintf("(%s (subpath %s))", verb, quoted(path))
}

// socketDirRule allows outbound unix-domain-socket connections to any path
// under dir. Unlike file filters, SBPL network filters don't accept
// (subpath ...); a directory-rooted allow needs (regex ...) instead.
func socketDirRule(dir string) string {
	prefix := strings.TrimSuffix(dir, "/")
	pattern := "^" + regexp.QuoteMeta(prefix) + "/.*$"
	return fmt.Sprintf("(allow network-outbound (regex %s))", quoted(pattern))
}

// Generate produces the complete SBPL document for one exec, honouring a
// caller-supplied RawProfileContent override before generating anything.
func Generate(f Fragment) string {
	if f.RawProfileContent != "" {
		return f.RawProfileContent
	}

	var p strings.Builder
	p.WriteString("(version 1)\n")
	p.WriteString("(deny default)\n\n")

	p.WriteString("; file read\n")
	p.WriteString("(allow file-read*)\n")
	for _, denied := range f.DeniedReadPaths {
		p.WriteString(pathRule("deny file-read*", denied) + "\n")
	}
	for _, allowed := range f.AllowedReadPaths {
		if nestedUnderAny(allowed, f.DeniedReadPaths) {
			p.WriteString(pathRule("allow file-read*", allowed) + "\n")
		}
	}
	p.WriteString("\n; file write\n")
	for _, path := range defaultWritePaths {
		p.WriteString(pathRule("allow file-write*", path) + "\n")
	}
	for _, path := range f.AllowedWritePaths {
		p.WriteString(pathRule("allow file-write*", path) + "\n")
	}

	p.WriteString("\n; broker socket\n")
	for _, dir := range f.SocketDirs {
		p.WriteString(socketDirRule(dir) + "\n")
	}

	p.WriteString(`
; process
(allow process-fork)
(allow signal (target self))

; sysctl
(allow sysctl-read)

; mach
(allow mach-lookup)

; devices
(allow file-ioctl file-read-data file-write-data (literal "/dev/null"))
(allow file-ioctl file-read-data file-write-data (literal "/dev/zero"))
(allow file-ioctl file-read-data (literal "/dev/random"))
(allow file-ioctl file-read-data (literal "/dev/urandom"))
`)

	p.WriteString("\n; binaries\n")
	p.WriteString("(allow process-exec (subpath \"/usr/bin\"))\n")
	p.WriteString("(allow process-exec (subpath \"/bin\"))\n")
	for _, bin := range f.AllowedBinaries {
		p.WriteString(pathRule("allow process-exec", bin) + "\n")
	}
	for _, bin := range f.DeniedBinaries {
		p.WriteString(pathRule("deny process-exec", bin) + "\n")
	}

	p.WriteString("\n; network\n")
	if !f.NetworkAllowed {
		p.WriteString("(deny network*)\n")
	} else {
		hasRemote := false
		for _, host := range f.AllowedHosts {
			if host != "localhost" && host != "127.0.0.1" {
				hasRemote = true
			}
			p.WriteString(fmt.Sprintf("(allow network-outbound (remote ip %s))\n", quoted(host+":*")))
		}
		for _, port := range f.AllowedPorts {
			p.WriteString(fmt.Sprintf("(allow network-outbound (remote ip %s))\n", quoted(fmt.Sprintf("*:%d", port))))
		}
		if hasRemote {
			p.WriteString("(allow network-outbound (remote ip \"*:53\"))\n")
			p.WriteString("(allow network-outbound (remote udp \"*:53\"))\n")
		}
	}

	return p.String()
}

// nestedUnderAny reports whether path sits underneath one of the given
// deny patterns' static prefix, meaning the universal file-read* allow is
// shadowed there and an explicit exception rule is needed to carve the
// allowed path back out.
func nestedUnderAny(path string, deniedPatterns []string) bool {
	for _, denied := range deniedPatterns {
		prefix := strings.TrimSuffix(strings.SplitN(denied, "*", 2)[0], "/")
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
