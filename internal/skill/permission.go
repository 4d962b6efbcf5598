package skill

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mosiyuan/cis/internal/cerr"
)

// PermissionKind enumerates the five permission families of spec.md
// §3's Skill Manifest.
type PermissionKind string

const (
	PermMemory     PermissionKind = "memory"
	PermNetwork    PermissionKind = "network"
	PermFilesystem PermissionKind = "filesystem"
	PermAI         PermissionKind = "ai"
	PermCommand    PermissionKind = "command"
)

// Permission is one declared grant. Only the fields relevant to Kind
// are populated.
type Permission struct {
	Kind           PermissionKind `json:"kind"`
	MemoryDomain   string         `json:"memory_domain,omitempty"`
	MemoryPrefix   string         `json:"memory_prefix,omitempty"`
	HostWhitelist  []string       `json:"host_whitelist,omitempty"`
	PathWhitelist  []string       `json:"path_whitelist,omitempty"`
	Mode           string         `json:"mode,omitempty"`
	RegexWhitelist []string       `json:"regex_whitelist,omitempty"`
}

// PermissionSet is the full grant list attached to a manifest and
// carried into its ExecutionContext.
type PermissionSet []Permission

// shellMeta matches the shell metacharacters spec.md §4.6.1 requires
// command.run to reject before pattern matching.
var shellMeta = regexp.MustCompile("[|`$><]")

// CheckMemory enforces memory(domain, prefix): key must fall under a
// declared prefix within a declared domain.
func (ps PermissionSet) CheckMemory(domain, key string) error {
	for _, p := range ps {
		if p.Kind != PermMemory {
			continue
		}
		if p.MemoryDomain == domain && strings.HasPrefix(key, p.MemoryPrefix) {
			return nil
		}
	}
	return cerr.New(cerr.Permission, "skill.CheckMemory", fmt.Errorf("no memory(%s,*) permission covers key %q", domain, key))
}

// CheckNetwork enforces network(host_whitelist).
func (ps PermissionSet) CheckNetwork(host string) error {
	for _, p := range ps {
		if p.Kind != PermNetwork {
			continue
		}
		for _, h := range p.HostWhitelist {
			if h == host {
				return nil
			}
		}
	}
	return cerr.New(cerr.Permission, "skill.CheckNetwork", fmt.Errorf("host %q not whitelisted", host))
}

// CheckFilesystem enforces filesystem(path_whitelist, mode); path must
// already be the normalized, canonicalized form (normalization happens
// in wasmrt/host before this check runs, per spec.md §4.6.1).
func (ps PermissionSet) CheckFilesystem(path, mode string) error {
	for _, p := range ps {
		if p.Kind != PermFilesystem {
			continue
		}
		if p.Mode != mode && p.Mode != "rw" {
			continue
		}
		for _, root := range p.PathWhitelist {
			if path == root || strings.HasPrefix(path, strings.TrimSuffix(root, "/")+"/") {
				return nil
			}
		}
	}
	return cerr.New(cerr.Permission, "skill.CheckFilesystem", fmt.Errorf("path %q not under a declared root", path))
}

// CheckAI enforces the always-bare `ai` permission.
func (ps PermissionSet) CheckAI() error {
	for _, p := range ps {
		if p.Kind == PermAI {
			return nil
		}
	}
	return cerr.New(cerr.Permission, "skill.CheckAI", fmt.Errorf("ai permission not granted"))
}

// CheckCommand enforces command(regex_whitelist): argv's joined form
// must match one whitelisted regex and contain no shell metacharacters.
func (ps PermissionSet) CheckCommand(argv []string) error {
	joined := strings.Join(argv, " ")
	if shellMeta.MatchString(joined) {
		return cerr.New(cerr.Permission, "skill.CheckCommand", fmt.Errorf("shell metacharacter rejected in %q", joined))
	}
	for _, p := range ps {
		if p.Kind != PermCommand {
			continue
		}
		for _, pattern := range p.RegexWhitelist {
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			if re.MatchString(joined) {
				return nil
			}
		}
	}
	return cerr.New(cerr.Permission, "skill.CheckCommand", fmt.Errorf("command %q matches no whitelisted pattern", joined))
}
