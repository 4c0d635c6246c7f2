// Package allowlist resolves exec command names to absolute binary paths
// against the union of a built-in table and a persisted dynamic table
// (spec.md §3 "Command allowlist entry").
package allowlist

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ReloadInterval is how stale a cached snapshot of the dynamic table may be
// before a lookup forces a refresh (spec.md §6: "30 s for command
// allowlist cache").
const ReloadInterval = 30 * time.Second

// builtinTable ships with the broker; these are the commands every profile
// can resolve regardless of what the dynamic table holds. Entries list
// candidate absolute paths in priority order — the first one present on
// disk wins.
var builtinTable = map[string][]string{
	"bash":   {"/bin/bash"},
	"sh":     {"/bin/sh"},
	"zsh":    {"/bin/zsh"},
	"ls":     {"/bin/ls"},
	"cat":    {"/bin/cat"},
	"cp":     {"/bin/cp"},
	"mv":     {"/bin/mv"},
	"mkdir":  {"/bin/mkdir"},
	"rm":     {"/bin/rm"},
	"touch":  {"/usr/bin/touch"},
	"chmod":  {"/bin/chmod"},
	"find":   {"/usr/bin/find"},
	"head":   {"/usr/bin/head"},
	"tail":   {"/usr/bin/tail"},
	"tar":    {"/usr/bin/tar"},
	"sed":    {"/usr/bin/sed"},
	"awk":    {"/usr/bin/awk"},
	"sort":   {"/usr/bin/sort"},
	"uniq":   {"/usr/bin/uniq"},
	"wc":     {"/usr/bin/wc"},
	"grep":   {"/usr/bin/grep"},
	"git":    {"/opt/homebrew/bin/git", "/usr/bin/git"},
	"node":   {"/opt/homebrew/bin/node", "/usr/local/bin/node"},
	"npm":    {"/opt/homebrew/bin/npm", "/usr/local/bin/npm"},
	"python": {"/opt/homebrew/bin/python3", "/usr/bin/python3"},
	"curl":   {"/usr/bin/curl"},
	"wget":   {"/opt/homebrew/bin/wget", "/usr/local/bin/wget"},
}

// FSCommands is the fixed set named in spec.md §4.4 step 3, whose arguments
// are validated against filesystem-allowed paths before spawning.
var FSCommands = set("mkdir", "rm", "cp", "mv", "touch", "chmod", "cat", "ls",
	"find", "head", "tail", "tar", "sed", "awk", "sort", "uniq", "wc", "grep")

// HTTPExecCommands is the set named in spec.md §4.4 step 4, whose URL
// argument is submitted through the policy engine as an http_request.
var HTTPExecCommands = set("curl", "wget")

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// exists checks whether a candidate path is present on disk and not a
// directory, without following an exec() to find out.
func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Table resolves a command name to its highest-priority existing absolute
// path: built-in candidates are tried before dynamic ones, and the first
// candidate present on disk wins.
type Table struct {
	db *sql.DB

	mu       sync.RWMutex
	dynamic  map[string][]string
	loadedAt time.Time
}

// Open prepares the allowed_commands table on db and returns a Table whose
// dynamic entries are loaded on first Resolve call.
func Open(db *sql.DB) (*Table, error) {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS allowed_commands (
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (name, path)
);
`)
	if err != nil {
		return nil, err
	}
	return &Table{db: db}, nil
}

// Add inserts (or re-priorities) a dynamic candidate path for name.
func (t *Table) Add(name, path string, priority int) error {
	_, err := t.db.Exec(`INSERT INTO allowed_commands (name, path, priority) VALUES (?,?,?)
		ON CONFLICT(name, path) DO UPDATE SET priority = excluded.priority`, name, path, priority)
	if err == nil {
		t.mu.Lock()
		t.loadedAt = time.Time{} // force reload on next Resolve
		t.mu.Unlock()
	}
	return err
}

// Remove deletes a dynamic candidate path for name.
func (t *Table) Remove(name, path string) error {
	_, err := t.db.Exec(`DELETE FROM allowed_commands WHERE name = ? AND path = ?`, name, path)
	if err == nil {
		t.mu.Lock()
		t.loadedAt = time.Time{}
		t.mu.Unlock()
	}
	return err
}

func (t *Table) ensureLoaded() error {
	t.mu.RLock()
	stale := time.Since(t.loadedAt) > ReloadInterval
	t.mu.RUnlock()
	if !stale {
		return nil
	}

	rows, err := t.db.Query(`SELECT name, path FROM allowed_commands ORDER BY priority DESC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	dynamic := make(map[string][]string)
	for rows.Next() {
		var name, path string
		if err := rows.Scan(&name, &path); err != nil {
			return err
		}
		dynamic[name] = append(dynamic[name], path)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	t.dynamic = dynamic
	t.loadedAt = time.Now()
	t.mu.Unlock()
	return nil
}

// Resolve returns the absolute path for a command name or basename,
// checking built-in candidates before dynamic ones, and confirming the
// winning candidate actually exists on disk. ok is false when nothing in
// either table resolves to an existing file (spec.md §4.4 step 1: "Missing
// → 1007").
func (t *Table) Resolve(name string) (path string, ok bool) {
	name = filepath.Base(name)

	if candidates, found := builtinTable[name]; found {
		for _, c := range candidates {
			if exists(c) {
				return c, true
			}
		}
	}

	if err := t.ensureLoaded(); err != nil {
		return "", false
	}
	t.mu.RLock()
	candidates := t.dynamic[name]
	t.mu.RUnlock()
	for _, c := range candidates {
		if exists(c) {
			return c, true
		}
	}
	return "", false
}

// ResolveAbsolute checks whether an already-absolute path is itself listed
// (in either table, for any name) and present on disk — the "absolute path
// allowed only if it appears in a listed path set" half of spec.md §4.4
// step 1.
func (t *Table) ResolveAbsolute(path string) bool {
	if !exists(path) {
		return false
	}
	for _, candidates := range builtinTable {
		for _, c := range candidates {
			if c == path {
				return true
			}
		}
	}
	if err := t.ensureLoaded(); err != nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, candidates := range t.dynamic {
		for _, c := range candidates {
			if c == path {
				return true
			}
		}
	}
	return false
}
