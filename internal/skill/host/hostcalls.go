// Package host implements the host call surface of spec.md §4.6.1,
// exposed symmetrically to WASM and native skills. Every
// permission-gated call consults the invocation's PermissionSet before
// doing work; a permission miss returns cerr.Permission rather than a
// silent no-op, per spec.md's ACL-check contract. log and config.*
// carry no permission check: they are always allowed.
package host

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/memory"
	"github.com/mosiyuan/cis/internal/skill"
	"github.com/mosiyuan/cis/internal/storage"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// AIProvider calls the configured AI adapter (spec.md §6's
// `agent.default_runtime`). The module ships no implementation:
// cmd/cisd passes nil, and with a nil provider AIPrompt returns a
// cerr.Config error.
type AIProvider interface {
	Prompt(ctx context.Context, text string, timeout time.Duration) (string, error)
}

// Host implements the host call surface over one ExecutionContext.
type Host struct {
	mem    *memory.Service
	ai     AIProvider
	config *storage.Bucket
	client *http.Client
	log    zerolog.Logger
}

func New(mem *memory.Service, ai AIProvider, config *storage.Bucket) *Host {
	return &Host{
		mem:    mem,
		ai:     ai,
		config: config,
		client: &http.Client{},
		log:    telemetry.Component("skill.host"),
	}
}

// AIPrompt implements ai.prompt(text) → text.
func (h *Host) AIPrompt(ctx *skill.ExecutionContext, text string) (string, error) {
	if err := ctx.Permissions.CheckAI(); err != nil {
		return "", err
	}
	if h.ai == nil {
		return "", cerr.New(cerr.Config, "host.AIPrompt", fmt.Errorf("no AI provider configured"))
	}
	timeout := time.Until(ctx.Deadline)
	return h.ai.Prompt(context.Background(), text, timeout)
}

// MemoryGet implements memory.get within a declared domain/prefix.
func (h *Host) MemoryGet(ctx *skill.ExecutionContext, domain memory.Domain, key string) (memory.Item, error) {
	if err := ctx.Permissions.CheckMemory(string(domain), key); err != nil {
		return memory.Item{}, err
	}
	return h.mem.Get(key, domain)
}

// MemorySet implements memory.set within a declared domain/prefix.
func (h *Host) MemorySet(ctx *skill.ExecutionContext, domain memory.Domain, key string, value []byte, category string) error {
	if err := ctx.Permissions.CheckMemory(string(domain), key); err != nil {
		return err
	}
	return h.mem.Set(key, value, domain, category)
}

// MemoryDelete implements memory.delete.
func (h *Host) MemoryDelete(ctx *skill.ExecutionContext, domain memory.Domain, key string) error {
	if err := ctx.Permissions.CheckMemory(string(domain), key); err != nil {
		return err
	}
	return h.mem.Delete(key, domain)
}

// MemorySearch implements memory.search.
func (h *Host) MemorySearch(ctx *skill.ExecutionContext, domain memory.Domain, query string, limit int) ([]memory.Item, error) {
	if err := ctx.Permissions.CheckMemory(string(domain), ""); err != nil {
		return nil, err
	}
	return h.mem.Search(query, limit, memory.SearchOptions{Domain: domain})
}

// HTTPRequest implements http.request(method, url, body) → response,
// host-whitelisted and deadline-bounded.
func (h *Host) HTTPRequest(ctx *skill.ExecutionContext, method, rawURL string, body []byte) (*http.Response, error) {
	host, err := hostOf(rawURL)
	if err != nil {
		return nil, cerr.New(cerr.Protocol, "host.HTTPRequest", err)
	}
	if err := ctx.Permissions.CheckNetwork(host); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithDeadline(context.Background(), ctx.Deadline)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bytesReader(body))
	if err != nil {
		return nil, cerr.New(cerr.Protocol, "host.HTTPRequest", err)
	}
	return h.client.Do(req)
}

// FSRead implements fs.read(path) under a declared permission root.
// path is normalized and canonicalized before the whitelist check, so
// a request cannot escape its root via "..", symlink, or relative
// segments, per spec.md §4.6.1.
func (h *Host) FSRead(ctx *skill.ExecutionContext, path string) ([]byte, error) {
	clean, err := normalizePath(path)
	if err != nil {
		return nil, cerr.New(cerr.Permission, "host.FSRead", err)
	}
	if err := ctx.Permissions.CheckFilesystem(clean, "r"); err != nil {
		return nil, err
	}
	ctx.AcquireFD(skill.FileHandle{Path: clean, Mode: "r"})
	return os.ReadFile(clean)
}

// FSWrite implements fs.write(path) under a declared permission root.
func (h *Host) FSWrite(ctx *skill.ExecutionContext, path string, data []byte) error {
	clean, err := normalizePath(path)
	if err != nil {
		return cerr.New(cerr.Permission, "host.FSWrite", err)
	}
	if err := ctx.Permissions.CheckFilesystem(clean, "w"); err != nil {
		return err
	}
	ctx.AcquireFD(skill.FileHandle{Path: clean, Mode: "w"})
	return os.WriteFile(clean, data, 0o600)
}

// CommandRun implements command.run(argv), spawning a subprocess
// whose full command line matches a whitelisted regex.
func (h *Host) CommandRun(ctx *skill.ExecutionContext, argv []string) ([]byte, error) {
	if err := ctx.Permissions.CheckCommand(argv); err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, cerr.New(cerr.Protocol, "host.CommandRun", fmt.Errorf("empty argv"))
	}
	cmdCtx, cancel := context.WithDeadline(context.Background(), ctx.Deadline)
	defer cancel()
	cmd := exec.CommandContext(cmdCtx, argv[0], argv[1:]...)
	return cmd.CombinedOutput()
}

// Log implements log(level, text), always allowed.
func (h *Host) Log(level, text string) {
	ev := h.log.Info()
	switch level {
	case "debug":
		ev = h.log.Debug()
	case "warn":
		ev = h.log.Warn()
	case "error":
		ev = h.log.Error()
	}
	ev.Msg(text)
}

// ConfigGet/ConfigSet implement config.get/set(key), always allowed,
// scoped per skill by skillName.
func (h *Host) ConfigGet(skillName, key string) (string, error) {
	var value string
	err := h.config.Get(skillName+"/"+key, &value)
	return value, err
}

func (h *Host) ConfigSet(skillName, key, value string) error {
	return h.config.Put(skillName+"/"+key, value)
}

func hostOf(rawURL string) (string, error) {
	i := strings.Index(rawURL, "://")
	if i < 0 {
		return "", fmt.Errorf("no scheme in %q", rawURL)
	}
	rest := rawURL[i+3:]
	if j := strings.IndexAny(rest, "/?"); j >= 0 {
		rest = rest[:j]
	}
	if rest == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	return rest, nil
}

// normalizePath resolves path to an absolute, symlink-free form and
// rejects anything that still contains ".." after cleaning, per
// spec.md §4.6.1's pre-whitelist normalization rule.
func normalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(abs)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("path %q escapes its root after normalization", path)
	}
	resolved, err := filepath.EvalSymlinks(clean)
	if err != nil {
		if os.IsNotExist(err) {
			return clean, nil // a not-yet-created write target is allowed
		}
		return "", err
	}
	return resolved, nil
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return nil
	}
	return bytes.NewReader(b)
}
