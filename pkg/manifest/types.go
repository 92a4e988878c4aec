package manifest

import (
	"fmt"
)

// InstallMethod identifies how an extension is installed.
type InstallMethod string

const (
	MethodMise   InstallMethod = "mise"
	MethodApt    InstallMethod = "apt"
	MethodBinary InstallMethod = "binary"
	MethodNpm    InstallMethod = "npm"
	MethodScript InstallMethod = "script"
	MethodHybrid InstallMethod = "hybrid"
)

// Validate checks if the install method is one of the known values.
func (m InstallMethod) Validate() error {
	switch m {
	case MethodMise, MethodApt, MethodBinary, MethodNpm, MethodScript, MethodHybrid:
		return nil
	default:
		return fmt.Errorf("invalid install method: %s", m)
	}
}

// Category classifies an extension for listing and filtering.
type Category string

const (
	CategoryLanguages     Category = "languages"
	CategoryDevops        Category = "devops"
	CategoryCloud         Category = "cloud"
	CategoryAiAgents      Category = "ai-agents"
	CategoryProductivity  Category = "productivity"
	CategoryTesting       Category = "testing"
	CategoryDocumentation Category = "documentation"
)

// Extension is one complete extension manifest.
type Extension struct {
	// Metadata describes the extension.
	Metadata Metadata `yaml:"metadata" validate:"required"`

	// Requirements declares resource and timeout requirements.
	Requirements *Requirements `yaml:"requirements,omitempty"`

	// Install declares how the extension is installed.
	Install InstallConfig `yaml:"install" validate:"required"`

	// Validate declares how an installation is checked.
	Validate ValidateConfig `yaml:"validate"`

	// Remove declares removal behavior.
	Remove *RemoveConfig `yaml:"remove,omitempty"`

	// Upgrade declares upgrade behavior.
	Upgrade *UpgradeConfig `yaml:"upgrade,omitempty"`
}

// Metadata describes an extension.
type Metadata struct {
	// Name is the unique extension name.
	Name string `yaml:"name" validate:"required,hostname_rfc1123"`

	// Version is the extension definition version.
	Version string `yaml:"version" validate:"required"`

	// Description is a one-line summary.
	Description string `yaml:"description" validate:"required"`

	// Category classifies the extension.
	Category Category `yaml:"category" validate:"required"`

	// Author is the manifest author, if declared.
	Author string `yaml:"author,omitempty"`

	// Homepage is the upstream project page.
	Homepage string `yaml:"homepage,omitempty" validate:"omitempty,url"`

	// Dependencies lists extensions that must be installed first.
	Dependencies []string `yaml:"dependencies,omitempty"`
}

// Requirements declares what an extension needs to install.
type Requirements struct {
	// DiskSpaceMB is the estimated disk usage in megabytes.
	DiskSpaceMB uint32 `yaml:"diskSpace,omitempty"`

	// MemoryMB is the estimated memory requirement in megabytes.
	MemoryMB uint32 `yaml:"memory,omitempty"`

	// InstallTimeoutSecs bounds the installation.
	InstallTimeoutSecs uint32 `yaml:"installTimeout,omitempty"`

	// ValidationTimeoutSecs bounds each validation command.
	ValidationTimeoutSecs uint32 `yaml:"validationTimeout,omitempty"`

	// Domains lists network domains the installation reaches.
	Domains []string `yaml:"domains,omitempty"`
}

// InstallConfig declares the installation method and its parameters.
// Exactly the section matching Method must be present; hybrid installs
// may combine several.
type InstallConfig struct {
	// Method selects the installation mechanism.
	Method InstallMethod `yaml:"method" validate:"required"`

	// Mise configures a mise-managed tool installation.
	Mise *MiseInstall `yaml:"mise,omitempty"`

	// Apt configures installation from APT packages.
	Apt *AptInstall `yaml:"apt,omitempty"`

	// Binary configures direct binary downloads.
	Binary *BinaryInstall `yaml:"binary,omitempty"`

	// Npm configures a global npm package installation.
	Npm *NpmInstall `yaml:"npm,omitempty"`

	// Script configures an installation script.
	Script *ScriptInstall `yaml:"script,omitempty"`
}

// MiseInstall configures tool installation via mise.
type MiseInstall struct {
	// ConfigFile is the mise config file to install from.
	ConfigFile string `yaml:"configFile,omitempty"`

	// ReshimAfterInstall runs mise reshim after installation.
	ReshimAfterInstall bool `yaml:"reshimAfterInstall,omitempty"`
}

// AptInstall configures installation from APT packages.
type AptInstall struct {
	// Packages lists the packages to install.
	Packages []string `yaml:"packages" validate:"required,min=1"`

	// UpdateFirst runs apt-get update before installing.
	UpdateFirst bool `yaml:"updateFirst,omitempty"`
}

// BinaryInstall configures direct binary downloads.
type BinaryInstall struct {
	// Downloads lists the binaries to fetch.
	Downloads []BinaryDownload `yaml:"downloads" validate:"required,min=1,dive"`
}

// BinaryDownload is one binary to download and place on PATH.
type BinaryDownload struct {
	// Name is the binary name.
	Name string `yaml:"name" validate:"required"`

	// URL is the download source, with {version} and {platform}
	// placeholders substituted at install time.
	URL string `yaml:"url" validate:"required"`

	// Version is the version to download.
	Version string `yaml:"version" validate:"required"`

	// Destination overrides the default install directory.
	Destination string `yaml:"destination,omitempty"`

	// Extract unpacks an archive instead of copying a raw binary.
	Extract bool `yaml:"extract,omitempty"`
}

// NpmInstall configures a global npm package installation.
type NpmInstall struct {
	// Package is the npm package spec.
	Package string `yaml:"package" validate:"required"`
}

// ScriptInstall configures an installation script.
type ScriptInstall struct {
	// Path is the script path relative to the extension definition.
	Path string `yaml:"path" validate:"required"`

	// Args are passed to the script.
	Args []string `yaml:"args,omitempty"`

	// TimeoutSecs bounds the script run.
	TimeoutSecs uint32 `yaml:"timeout,omitempty"`
}

// ValidateConfig declares how an installation is checked.
type ValidateConfig struct {
	// Commands lists command checks to run.
	Commands []CommandCheck `yaml:"commands,omitempty" validate:"dive"`

	// Mise lists mise tools that must be present.
	Mise *MiseCheck `yaml:"mise,omitempty"`
}

// CommandCheck verifies that a command exists and responds.
type CommandCheck struct {
	// Name is the command to run.
	Name string `yaml:"name" validate:"required"`

	// VersionFlag is the flag passed to elicit a version string.
	VersionFlag string `yaml:"versionFlag,omitempty"`

	// ExpectedPattern is a regular expression the output must match.
	ExpectedPattern string `yaml:"expectedPattern,omitempty"`
}

// MiseCheck verifies that mise-managed tools are installed.
type MiseCheck struct {
	// Tools lists the tool names that must appear in mise ls.
	Tools []string `yaml:"tools" validate:"required,min=1"`
}

// RemoveConfig declares removal behavior.
type RemoveConfig struct {
	// Confirmation requires interactive confirmation before removal.
	Confirmation bool `yaml:"confirmation,omitempty"`

	// Paths lists files and directories deleted on removal.
	Paths []string `yaml:"paths,omitempty"`
}

// UpgradeStrategy selects how upgrades are performed.
type UpgradeStrategy string

const (
	// UpgradeInPlace upgrades the installed tool directly.
	UpgradeInPlace UpgradeStrategy = "in-place"

	// UpgradeReinstall removes then reinstalls at the new version.
	UpgradeReinstall UpgradeStrategy = "reinstall"
)

// UpgradeConfig declares upgrade behavior.
type UpgradeConfig struct {
	// Strategy selects the upgrade mechanism.
	Strategy UpgradeStrategy `yaml:"strategy,omitempty"`
}

// Validate checks cross-field constraints that struct tags cannot
// express: the section matching the install method must be present.
func (e *Extension) ValidateConstraints() error {
	if err := e.Install.Method.Validate(); err != nil {
		return err
	}

	switch e.Install.Method {
	case MethodMise:
		if e.Install.Mise == nil {
			return fmt.Errorf("extension %s: install method mise requires a mise section", e.Metadata.Name)
		}
	case MethodApt:
		if e.Install.Apt == nil {
			return fmt.Errorf("extension %s: install method apt requires an apt section", e.Metadata.Name)
		}
	case MethodBinary:
		if e.Install.Binary == nil {
			return fmt.Errorf("extension %s: install method binary requires a binary section", e.Metadata.Name)
		}
	case MethodNpm:
		if e.Install.Npm == nil {
			return fmt.Errorf("extension %s: install method npm requires an npm section", e.Metadata.Name)
		}
	case MethodScript:
		if e.Install.Script == nil {
			return fmt.Errorf("extension %s: install method script requires a script section", e.Metadata.Name)
		}
	case MethodHybrid:
		if e.Install.Mise == nil && e.Install.Apt == nil && e.Install.Binary == nil &&
			e.Install.Npm == nil && e.Install.Script == nil {
			return fmt.Errorf("extension %s: install method hybrid requires at least one method section", e.Metadata.Name)
		}
	}
	return nil
}
