// Package policy implements the sole enforcement point for tenant/privacy
// gating on memory reads and writes (§6.4). Callers must route every memory
// operation through a TenantPolicyContext rather than bypassing it.
package policy

import "fmt"

// TenantPolicyContext gates recall and write operations by tenant. When
// Enabled, any operation whose entity does not match Tenant fails closed.
// A disabled context passes everything through, matching a single-tenant
// deployment.
type TenantPolicyContext struct {
	Enabled bool
	Tenant  string
}

// Disabled returns a pass-through context for single-tenant deployments.
func Disabled() TenantPolicyContext {
	return TenantPolicyContext{}
}

// ForTenant returns an enabled context scoped to the given tenant id.
func ForTenant(tenant string) TenantPolicyContext {
	return TenantPolicyContext{Enabled: true, Tenant: tenant}
}

// Authorize fails closed when the context is enabled and entityID does not
// match the bound tenant. This is the sole enforcement point named in §6.4;
// every memory read/write path must call it before touching storage.
func (p TenantPolicyContext) Authorize(entityID string) error {
	if !p.Enabled {
		return nil
	}
	if entityID != p.Tenant {
		return fmt.Errorf("policy denial: entity %q is not visible to tenant %q", entityID, p.Tenant)
	}
	return nil
}
