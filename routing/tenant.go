package routing

import (
	"strings"
)

// DefaultTenant is the fallback tenant when no other source matches.
const DefaultTenant = "default"

// Tenant sources, in resolution priority order.
const (
	TenantSourcePath      = "path"
	TenantSourceHeader    = "header"
	TenantSourceSubdomain = "subdomain"
	TenantSourcePrincipal = "principal"
	TenantSourceDefault   = "default"
)

// TenantConfig describes how tenants are recognized from the host.
type TenantConfig struct {
	// BaseDomains are domains whose subdomains name tenants,
	// e.g. "example.com" makes "acme.example.com" resolve tenant "acme".
	BaseDomains []string

	// SystemSubdomains never resolve as tenants ("api", "app", "docs", ...).
	SystemSubdomains []string
}

// TenantResolution carries the winning tenant and which source produced it.
type TenantResolution struct {
	Tenant string `json:"tenant"`
	Source string `json:"source"`
}

// ResolveTenant applies the resolution priority: path prefix, x-tenant
// header, subdomain against the configured base domains, the principal's
// org claim, then the literal default.
func ResolveTenant(pathTenant, headerTenant, host, principalOrg string, cfg TenantConfig) TenantResolution {
	if pathTenant != "" {
		return TenantResolution{Tenant: pathTenant, Source: TenantSourcePath}
	}
	if headerTenant != "" {
		return TenantResolution{Tenant: headerTenant, Source: TenantSourceHeader}
	}
	if sub := subdomainTenant(host, cfg); sub != "" {
		return TenantResolution{Tenant: sub, Source: TenantSourceSubdomain}
	}
	if principalOrg != "" {
		return TenantResolution{Tenant: principalOrg, Source: TenantSourcePrincipal}
	}
	return TenantResolution{Tenant: DefaultTenant, Source: TenantSourceDefault}
}

// subdomainTenant extracts a tenant from "slug.base" hosts, skipping system
// subdomains. Ports are ignored.
func subdomainTenant(host string, cfg TenantConfig) string {
	host = strings.ToLower(stripPort(host))

	for _, base := range cfg.BaseDomains {
		base = strings.ToLower(base)
		suffix := "." + base
		if !strings.HasSuffix(host, suffix) {
			continue
		}
		sub := strings.TrimSuffix(host, suffix)
		if sub == "" || strings.Contains(sub, ".") {
			continue
		}
		if isSystemSubdomain(sub, cfg.SystemSubdomains) {
			continue
		}
		return sub
	}
	return ""
}

func isSystemSubdomain(sub string, system []string) bool {
	for _, s := range system {
		if strings.EqualFold(s, sub) {
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.Contains(host[idx:], "]") {
		return host[:idx]
	}
	return host
}
