package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		allowedSourcesPolicy(),
		protectedExtensionsPolicy(),
		pinnedVersionsPolicy(),
		productionSafetyPolicy(),
	}
}

// allowedSourcesPolicy restricts where extension definitions may come from.
func allowedSourcesPolicy() Policy {
	return Policy{
		Name:        "allowed-sources",
		Description: "Restricts extension installation to trusted definition sources",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"sources", "supply-chain"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package crucible.policies.sources

import rego.v1

# Trusted source prefixes for extension definitions
allowed_prefixes := ["github:crucible-dev/", "file:", "oci://registry.crucible.dev/"]

deny contains violation if {
	input.operation == "install"
	input.source != ""

	not source_allowed(input.source)
	violation := {
		"message": sprintf("Extension %s comes from untrusted source %s", [input.extension, input.source]),
		"severity": "error",
		"extension": input.extension,
	}
}

source_allowed(source) if {
	some prefix in allowed_prefixes
	startswith(source, prefix)
}`,
	}
}

// protectedExtensionsPolicy prevents removal of foundational extensions.
func protectedExtensionsPolicy() Policy {
	return Policy{
		Name:        "protected-extensions",
		Description: "Prevents removal of extensions other tooling depends on",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"removal", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package crucible.policies.protected

import rego.v1

# Extensions that must never be removed
protected := ["mise", "git"]

deny contains violation if {
	input.operation == "remove"

	some name in protected
	input.extension == name

	violation := {
		"message": sprintf("Extension %s is protected and cannot be removed", [name]),
		"severity": "critical",
		"extension": name,
	}
}`,
	}
}

// pinnedVersionsPolicy blocks upgrades past a pinned version.
func pinnedVersionsPolicy() Policy {
	return Policy{
		Name:        "pinned-versions",
		Description: "Blocks upgrades of extensions pinned to a specific version",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"upgrades", "pins"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package crucible.policies.pins

import rego.v1

deny contains violation if {
	input.operation == "upgrade"
	input.pinned_version != ""

	input.to_version != input.pinned_version

	violation := {
		"message": sprintf("Extension %s is pinned to %s; upgrade to %s is not allowed", [input.extension, input.pinned_version, input.to_version]),
		"severity": "error",
		"extension": input.extension,
	}
}`,
	}
}

// productionSafetyPolicy gates risky operations in production environments.
func productionSafetyPolicy() Policy {
	return Policy{
		Name:        "production-safety",
		Description: "Flags pre-release versions and removals in production environments",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"production", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package crucible.policies.production

import rego.v1

deny contains violation if {
	input.context.environment == "production"
	input.operation == "install"

	regex.match("(alpha|beta|rc)", input.version)

	violation := {
		"message": sprintf("Version %s of %s is pre-release and should not be installed in production", [input.version, input.extension]),
		"severity": "warning",
		"extension": input.extension,
	}
}

deny contains violation if {
	input.context.environment == "production"
	input.operation == "remove"
	not input.context.dry_run

	violation := {
		"message": sprintf("Removing %s in production requires a dry run first", [input.extension]),
		"severity": "warning",
		"extension": input.extension,
	}
}`,
	}
}
