package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agen-co/agenshield-sub008/internal/audit"
	"github.com/agen-co/agenshield-sub008/internal/rpc"
)

// slugPattern validates a skill identifier before it ever touches the
// filesystem (spec.md §4.4 "skill_install/skill_uninstall").
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

func validSlug(slug string) bool {
	return slugPattern.MatchString(slug) && !strings.Contains(slug, "..") && !strings.Contains(slug, "/")
}

type skillInstallParams struct {
	Slug    string            `json:"slug"`
	Files   map[string]string `json:"files"`   // relative path -> content
	Wrapper string            `json:"wrapper,omitempty"` // optional wrapper script content
}

// SkillInstall writes a skill's files under $AGENT_HOME/.skills/<slug>/ and
// an optional wrapper under $AGENT_HOME/bin/<slug>, applying the fixed
// ownership/permission scheme (spec.md §4.4 "skill_install" — socket-only,
// root filesystem operations; the daemon owns the registry index, this
// handler only manipulates files).
func (d *Deps) SkillInstall(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	channel := rpc.ChannelFromContext(ctx)
	var p skillInstallParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if !validSlug(p.Slug) {
		d.record("skill_install", channel, false, p.Slug, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeInvalidParams, "invalid skill slug")
	}

	root := filepath.Join(d.AgentHome, ".skills", p.Slug)
	if err := os.MkdirAll(root, 0755); err != nil {
		d.record("skill_install", channel, true, p.Slug, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}

	for rel, content := range p.Files {
		if strings.Contains(rel, "..") {
			return nil, rpc.NewError(rpc.CodeInvalidParams, fmt.Sprintf("invalid file path %q", rel))
		}
		target := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			d.record("skill_install", channel, true, p.Slug, audit.ResultError, start, nil, nil, nil)
			return nil, rpc.NewError(rpc.CodeIO, err.Error())
		}
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			d.record("skill_install", channel, true, p.Slug, audit.ResultError, start, nil, nil, nil)
			return nil, rpc.NewError(rpc.CodeIO, err.Error())
		}
	}

	if err := chownTreeAndLock(root, d.SocketGroup); err != nil {
		d.record("skill_install", channel, true, p.Slug, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}

	if p.Wrapper != "" {
		wrapperPath := filepath.Join(d.AgentHome, "bin", p.Slug)
		if err := os.MkdirAll(filepath.Dir(wrapperPath), 0755); err != nil {
			return nil, rpc.NewError(rpc.CodeIO, err.Error())
		}
		if err := os.WriteFile(wrapperPath, []byte(p.Wrapper), 0755); err != nil {
			d.record("skill_install", channel, true, p.Slug, audit.ResultError, start, nil, nil, nil)
			return nil, rpc.NewError(rpc.CodeIO, err.Error())
		}
	}

	d.record("skill_install", channel, true, p.Slug, audit.ResultSuccess, start, nil, nil, nil)
	d.publish("skills:installed", map[string]string{"slug": p.Slug})
	return map[string]string{"path": root}, nil
}

type skillUninstallParams struct {
	Slug string `json:"slug"`
}

// SkillUninstall removes a skill's tree and wrapper script (spec.md §4.4
// "skill_uninstall" — socket-only).
func (d *Deps) SkillUninstall(ctx context.Context, params json.RawMessage) (interface{}, *rpc.Error) {
	start := time.Now()
	channel := rpc.ChannelFromContext(ctx)
	var p skillUninstallParams
	if rpcErr := decode(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if !validSlug(p.Slug) {
		d.record("skill_uninstall", channel, false, p.Slug, audit.ResultDenied, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeInvalidParams, "invalid skill slug")
	}

	root := filepath.Join(d.AgentHome, ".skills", p.Slug)
	if err := os.RemoveAll(root); err != nil {
		d.record("skill_uninstall", channel, true, p.Slug, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}
	wrapperPath := filepath.Join(d.AgentHome, "bin", p.Slug)
	if err := os.Remove(wrapperPath); err != nil && !os.IsNotExist(err) {
		d.record("skill_uninstall", channel, true, p.Slug, audit.ResultError, start, nil, nil, nil)
		return nil, rpc.NewError(rpc.CodeIO, err.Error())
	}

	d.record("skill_uninstall", channel, true, p.Slug, audit.ResultSuccess, start, nil, nil, nil)
	d.publish("skills:uninstalled", map[string]string{"slug": p.Slug})
	return map[string]bool{"removed": true}, nil
}

// chownTreeAndLock applies `root:<socket_group>` ownership and
// `a+rX,go-w` permissions across a skill tree (spec.md §4.4
// "skill_install"). Chown requires the broker process to actually be
// running as root; a non-root test/dev broker gets ErrPermission here,
// which the caller surfaces as an IO error rather than papering over it.
func chownTreeAndLock(root, group string) error {
	gid, err := groupID(group)
	if err != nil {
		return err
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if gid >= 0 {
			if err := os.Chown(path, 0, gid); err != nil {
				return err
			}
		}
		mode := os.FileMode(0644)
		if info.IsDir() {
			mode = 0755
		}
		return os.Chmod(path, mode)
	})
}
