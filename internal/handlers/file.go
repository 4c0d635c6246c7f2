package handlers

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/policy"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
)

type filePathParams struct {
	Path string `json:"path"`
	Cwd  string `json:"cwd,omitempty"`
}

func (d *Deps) checkFilesystem(ctx context.Context, operation, path, cwd string) (policy.Decision, string) {
	abs := path
	if !filepath.IsAbs(abs) && cwd != "" {
		abs = filepath.Join(cwd, abs)
	}
	abs = filepath.Clean(abs)
	cc := callContext(rpc.ChannelFromContext(ctx), cwd)
	decision := d.Engine.Decide(ctx, policy.Scope{}, policy.Target{
		Operation: operation,
		Kind:      policy.TargetFilesystem,
		Raw:       abs,
	}, cc)
	return decision, abs
}

// FileRead returns the UTF-8 contents of an allowed, existing, regular
// file (spec.md §4.4 "file_read").
func (d *Deps) FileRead(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	var p filePathParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	channel := rpc.ChannelFromContext(ctx)
	decision, abs := d.checkFilesystem(ctx, "file_read", p.Path, p.Cwd)
	if !decision.Allowed {
		d.record("file_read", channel, false, abs, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodePathNotAllowed, decision.Reason)
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		d.record("file_read", channel, true, abs, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, "not a readable file")
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		d.record("file_read", channel, true, abs, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}

	n := int64(len(data))
	d.record("file_read", channel, true, abs, audit.ResultSuccess, start, nil, nil, &n)
	return map[string]string{"content": string(data)}, nil
}

type fileListParams struct {
	Path      string `json:"path"`
	Cwd       string `json:"cwd,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
	Glob      string `json:"glob,omitempty"`
}

type fileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

// FileList lists a directory's entries, optionally recursive and filtered
// by a glob (spec.md §4.4 "file_list").
func (d *Deps) FileList(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	var p fileListParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	channel := rpc.ChannelFromContext(ctx)
	decision, abs := d.checkFilesystem(ctx, "file_list", p.Path, p.Cwd)
	if !decision.Allowed {
		d.record("file_list", channel, false, abs, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodePathNotAllowed, decision.Reason)
	}

	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		d.record("file_list", channel, true, abs, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, "not a directory")
	}

	var entries []fileEntry
	walker := func(path string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == abs {
			return nil
		}
		rel, _ := filepath.Rel(abs, path)
		if p.Glob != "" {
			if ok, _ := filepath.Match(p.Glob, filepath.Base(path)); !ok {
				if de.IsDir() && p.Recursive {
					return nil
				}
				if de.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		entries = append(entries, fileEntry{Name: rel, IsDir: de.IsDir()})
		if de.IsDir() && !p.Recursive && path != abs {
			return filepath.SkipDir
		}
		return nil
	}

	if err := filepath.WalkDir(abs, walker); err != nil {
		d.record("file_list", channel, true, abs, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	d.record("file_list", channel, true, abs, audit.ResultSuccess, start, nil, nil, nil)
	return map[string]interface{}{"entries": entries}, nil
}

type fileWriteParams struct {
	Path    string `json:"path"`
	Cwd     string `json:"cwd,omitempty"`
	Content string `json:"content"`
	Mode    *int   `json:"mode,omitempty"`
}

// FileWrite atomically writes content to path, creating parent directories
// as needed (spec.md §4.4 "file_write" — socket-only).
func (d *Deps) FileWrite(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	var p fileWriteParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	channel := rpc.ChannelFromContext(ctx)
	decision, abs := d.checkFilesystem(ctx, "file_write", p.Path, p.Cwd)
	if !decision.Allowed {
		d.record("file_write", channel, false, abs, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodePathNotAllowed, decision.Reason)
	}

	mode := os.FileMode(0644)
	if p.Mode != nil {
		mode = os.FileMode(*p.Mode)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		d.record("file_write", channel, true, abs, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), filepath.Base(abs)+".tmp-*")
	if err != nil {
		d.record("file_write", channel, true, abs, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}
	n, err := tmp.WriteString(p.Content)
	if err == nil {
		err = tmp.Chmod(mode)
	}
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		d.record("file_write", channel, true, abs, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		d.record("file_write", channel, true, abs, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}

	written := int64(n)
	d.record("file_write", channel, true, abs, audit.ResultSuccess, start, nil, nil, &written)
	return map[string]interface{}{"bytesWritten": written}, nil
}
