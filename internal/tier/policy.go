package tier

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier identifies a subscription level. Policy fields grow monotonically from
// Free up to Enterprise.
type Tier string

const (
	Free       Tier = "free"
	Early      Tier = "early"
	Mid        Tier = "mid"
	Enterprise Tier = "enterprise"
)

// ordered lists tiers from lowest to highest for monotonicity checks.
var ordered = []Tier{Free, Early, Mid, Enterprise}

// Parse converts a string into a known Tier.
func Parse(s string) (Tier, error) {
	switch Tier(s) {
	case Free, Early, Mid, Enterprise:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier: %q", s)
	}
}

// ResourceAllocation captures the per-context resource quotas granted by a
// tier.
type ResourceAllocation struct {
	MemoryMB      int     `yaml:"memory_mb" json:"memory_mb"`
	CPUCores      float64 `yaml:"cpu_cores" json:"cpu_cores"`
	StorageMB     int     `yaml:"storage_mb" json:"storage_mb"`
	NetworkKbps   int     `yaml:"network_kbps" json:"network_kbps"`
	MaxConcurrent int     `yaml:"max_concurrent" json:"max_concurrent"` // concurrent tool calls within a context
}

// Policy is the immutable per-tier configuration.
type Policy struct {
	MaxConcurrentContexts int                `yaml:"max_concurrent_contexts" json:"max_concurrent_contexts"`
	MaxLifetimeHours      int                `yaml:"max_lifetime_hours" json:"max_lifetime_hours"`
	Resources             ResourceAllocation `yaml:"resources" json:"resources"`
	AuditLoggingEnabled   bool               `yaml:"audit_logging_enabled" json:"audit_logging_enabled"`
	EncryptionRequired    bool               `yaml:"encryption_required" json:"encryption_required"`
	IsolationLevel        string             `yaml:"isolation_level" json:"isolation_level"`
}

// MaxLifetime returns the configured lifetime as a duration.
func (p Policy) MaxLifetime() time.Duration {
	return time.Duration(p.MaxLifetimeHours) * time.Hour
}

// Table maps each tier to its policy. Tables are loaded once at startup and
// never mutated afterwards.
type Table map[Tier]Policy

// DefaultTable returns the compiled-in tier policies.
func DefaultTable() Table {
	return Table{
		Free: {
			MaxConcurrentContexts: 1,
			MaxLifetimeHours:      2,
			Resources:             ResourceAllocation{MemoryMB: 256, CPUCores: 0.5, StorageMB: 128, NetworkKbps: 512, MaxConcurrent: 1},
			AuditLoggingEnabled:   false,
			EncryptionRequired:    false,
			IsolationLevel:        "standard",
		},
		Early: {
			MaxConcurrentContexts: 2,
			MaxLifetimeHours:      8,
			Resources:             ResourceAllocation{MemoryMB: 512, CPUCores: 1, StorageMB: 512, NetworkKbps: 2048, MaxConcurrent: 2},
			AuditLoggingEnabled:   false,
			EncryptionRequired:    false,
			IsolationLevel:        "standard",
		},
		Mid: {
			MaxConcurrentContexts: 5,
			MaxLifetimeHours:      12,
			Resources:             ResourceAllocation{MemoryMB: 2048, CPUCores: 2, StorageMB: 2048, NetworkKbps: 8192, MaxConcurrent: 4},
			AuditLoggingEnabled:   true,
			EncryptionRequired:    false,
			IsolationLevel:        "enhanced",
		},
		Enterprise: {
			MaxConcurrentContexts: 20,
			MaxLifetimeHours:      24,
			Resources:             ResourceAllocation{MemoryMB: 8192, CPUCores: 8, StorageMB: 16384, NetworkKbps: 65536, MaxConcurrent: 16},
			AuditLoggingEnabled:   true,
			EncryptionRequired:    true,
			IsolationLevel:        "strict",
		},
	}
}

// Load reads a tier policy table from a YAML file, filling missing tiers from
// the defaults, and validates it.
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tier policy file: %w", err)
	}

	var overrides map[Tier]Policy
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse tier policy file: %w", err)
	}

	table := DefaultTable()
	for name, policy := range overrides {
		if _, err := Parse(string(name)); err != nil {
			return nil, err
		}
		table[name] = policy
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Get returns the policy for a tier.
func (t Table) Get(tier Tier) (Policy, error) {
	policy, ok := t[tier]
	if !ok {
		return Policy{}, fmt.Errorf("no policy configured for tier %q", tier)
	}
	return policy, nil
}

// Validate checks that every tier is present and that every numeric policy
// field is monotonically non-decreasing from Free to Enterprise.
func (t Table) Validate() error {
	for _, tier := range ordered {
		if _, ok := t[tier]; !ok {
			return fmt.Errorf("tier policy table is missing tier %q", tier)
		}
	}

	for i := 1; i < len(ordered); i++ {
		lower, higher := t[ordered[i-1]], t[ordered[i]]
		lowName, highName := ordered[i-1], ordered[i]

		checks := []struct {
			field string
			low   float64
			high  float64
		}{
			{"max_concurrent_contexts", float64(lower.MaxConcurrentContexts), float64(higher.MaxConcurrentContexts)},
			{"max_lifetime_hours", float64(lower.MaxLifetimeHours), float64(higher.MaxLifetimeHours)},
			{"resources.memory_mb", float64(lower.Resources.MemoryMB), float64(higher.Resources.MemoryMB)},
			{"resources.cpu_cores", lower.Resources.CPUCores, higher.Resources.CPUCores},
			{"resources.storage_mb", float64(lower.Resources.StorageMB), float64(higher.Resources.StorageMB)},
			{"resources.network_kbps", float64(lower.Resources.NetworkKbps), float64(higher.Resources.NetworkKbps)},
			{"resources.max_concurrent", float64(lower.Resources.MaxConcurrent), float64(higher.Resources.MaxConcurrent)},
		}
		for _, check := range checks {
			if check.high < check.low {
				return fmt.Errorf("tier policy %s must be >= on %s than %s (%v < %v)",
					highName, check.field, lowName, check.high, check.low)
			}
		}
	}

	for tier, policy := range t {
		if policy.MaxConcurrentContexts < 1 {
			return fmt.Errorf("tier %q: max_concurrent_contexts must be at least 1", tier)
		}
		if policy.MaxLifetimeHours < 1 {
			return fmt.Errorf("tier %q: max_lifetime_hours must be at least 1", tier)
		}
	}

	return nil
}
