// Package policy enforces static access rules for tool bodies: which hosts
// the fetch tool may reach, which paths may be written, and which
// capabilities are granted at all. Policy is distinct from the approval
// gate: policy is configuration, approval is a per-action human decision.
package policy

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Checker is the interface tools consult.
type Checker interface {
	AllowHTTPURL(raw string) bool
	AllowPath(path string) bool
	AllowCapability(capability string) bool
}

// Policy is the serializable policy data.
type Policy struct {
	// AllowAllDomains permits any public host; when false only AllowDomains
	// (and their subdomains) pass. Loopback and private ranges are always
	// blocked unless AllowLoopback is set.
	AllowAllDomains bool     `yaml:"allow_all_domains"`
	AllowDomains    []string `yaml:"allow_domains"`
	AllowLoopback   bool     `yaml:"allow_loopback"`

	// AllowPaths lists directories writable by tools in addition to the
	// session working directory (which the tools enforce themselves).
	AllowPaths []string `yaml:"allow_paths"`

	// DenyCapabilities removes specific tool capabilities; everything a
	// builtin tool declares is granted by default.
	DenyCapabilities []string `yaml:"deny_capabilities"`
}

// Default returns the policy used when no policy section is configured:
// public hosts allowed, no extra writable paths, all capabilities granted.
func Default() Policy {
	return Policy{AllowAllDomains: true}
}

// Load reads a policy YAML file; a missing or empty file yields Default().
func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return Default(), nil
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	return p, nil
}

// AllowHTTPURL reports whether the fetch tool may reach the given URL.
func (p Policy) AllowHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	if scheme != "http" && scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if isBlockedHost(host, p.AllowLoopback) {
		return false
	}
	if p.AllowAllDomains {
		return true
	}
	for _, domain := range p.AllowDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func isBlockedHost(host string, allowLoopback bool) bool {
	if host == "localhost" {
		return !allowLoopback
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false // Not an IP address (e.g. a hostname).
	}
	if allowLoopback && ip.IsLoopback() {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}

// AllowPath reports whether path falls under one of the extra allowed
// directories.
func (p Policy) AllowPath(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range p.AllowPaths {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		dirAbs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if abs == dirAbs || strings.HasPrefix(abs, dirAbs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// AllowCapability reports whether a capability is granted.
func (p Policy) AllowCapability(capability string) bool {
	capability = strings.ToLower(strings.TrimSpace(capability))
	if capability == "" {
		return false
	}
	for _, denied := range p.DenyCapabilities {
		if strings.ToLower(strings.TrimSpace(denied)) == capability {
			return false
		}
	}
	return true
}
