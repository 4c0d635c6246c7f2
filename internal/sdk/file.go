package sdk

import (
	"context"
	"encoding/json"
	"fmt"
)

// filePathParams mirrors internal/handlers.filePathParams.
type filePathParams struct {
	Path string `json:"path"`
	Cwd  string `json:"cwd,omitempty"`
}

// ReadFile performs a policy_check against path and, on allow, the
// broker's file_read RPC (spec.md §4.5 filesystem hook, read path:
// fail_open governs a policy-check failure; the read itself is always
// mediated by the broker, never performed locally).
func (c *Client) ReadFile(ctx context.Context, path, cwd string) (string, error) {
	if _, err := c.checkPolicy(ctx, "file_read", path, "filesystem", cwd, false); err != nil {
		return "", err
	}
	result, rpcErr := c.call(ctx, "file_read", filePathParams{Path: path, Cwd: cwd})
	if rpcErr != nil {
		return "", rpcErr
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("sdk: decode file_read result: %w", err)
	}
	c.reportEvent("file_read", path, true, "success")
	return out.Content, nil
}

// DirEntry is one entry returned by ListDir.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"isDir"`
}

// ListDir performs a policy_check against path and, on allow, the broker's
// file_list RPC.
func (c *Client) ListDir(ctx context.Context, path, cwd string, recursive bool, globPattern string) ([]DirEntry, error) {
	if _, err := c.checkPolicy(ctx, "file_list", path, "filesystem", cwd, false); err != nil {
		return nil, err
	}
	result, rpcErr := c.call(ctx, "file_list", struct {
		Path      string `json:"path"`
		Cwd       string `json:"cwd,omitempty"`
		Recursive bool   `json:"recursive,omitempty"`
		Glob      string `json:"glob,omitempty"`
	}{Path: path, Cwd: cwd, Recursive: recursive, Glob: globPattern})
	if rpcErr != nil {
		return nil, rpcErr
	}
	var out struct {
		Entries []DirEntry `json:"entries"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("sdk: decode file_list result: %w", err)
	}
	c.reportEvent("file_list", path, true, "success")
	return out.Entries, nil
}

// WriteFile performs a policy_check against path and, on allow, the
// broker's file_write RPC. fail_open never applies to writes (spec.md
// §4.5): checkPolicy is called with write=true, so a policy-check failure
// always denies regardless of the client's WithFailOpen setting.
func (c *Client) WriteFile(ctx context.Context, path, cwd, content string, mode *int) (int64, error) {
	if _, err := c.checkPolicy(ctx, "file_write", path, "filesystem", cwd, true); err != nil {
		return 0, err
	}
	result, rpcErr := c.call(ctx, "file_write", struct {
		Path    string `json:"path"`
		Cwd     string `json:"cwd,omitempty"`
		Content string `json:"content"`
		Mode    *int   `json:"mode,omitempty"`
	}{Path: path, Cwd: cwd, Content: content, Mode: mode})
	if rpcErr != nil {
		return 0, rpcErr
	}
	var out struct {
		BytesWritten int64 `json:"bytesWritten"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("sdk: decode file_write result: %w", err)
	}
	c.reportEvent("file_write", path, true, "success")
	return out.BytesWritten, nil
}
