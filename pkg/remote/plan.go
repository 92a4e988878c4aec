package remote

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/crucible-dev/crucible/pkg/manifest"
)

// plan is the concrete sequence of steps for one lifecycle operation.
// Commands run in order through the Runner; script, when set, is
// pushed to the target and executed after the commands.
type plan struct {
	commands   []string
	script     *scriptStep
	components []string
}

// scriptStep delivers a local script to the target host and runs it.
type scriptStep struct {
	localPath string
	args      []string
	timeout   time.Duration
}

// installPlan builds the install steps for ext at version. Hybrid
// manifests contribute every declared section in a fixed order: apt
// first (system packages), then mise, binary, npm, and finally the
// script.
func installPlan(ext *manifest.Extension, version string) (*plan, error) {
	p := &plan{}
	install := ext.Install

	if install.Apt != nil {
		if install.Apt.UpdateFirst {
			p.commands = append(p.commands, "apt-get update")
		}
		p.commands = append(p.commands,
			fmt.Sprintf("apt-get install -y %s", strings.Join(install.Apt.Packages, " ")))
		p.components = append(p.components, install.Apt.Packages...)
	}

	if install.Mise != nil {
		if install.Mise.ConfigFile != "" {
			p.commands = append(p.commands,
				fmt.Sprintf("MISE_GLOBAL_CONFIG_FILE=%s mise install --yes", install.Mise.ConfigFile))
		} else {
			p.commands = append(p.commands,
				fmt.Sprintf("mise use --global %s@%s", ext.Metadata.Name, version))
		}
		if install.Mise.ReshimAfterInstall {
			p.commands = append(p.commands, "mise reshim")
		}
		p.components = append(p.components, ext.Metadata.Name)
	}

	if install.Binary != nil {
		for _, dl := range install.Binary.Downloads {
			url := strings.ReplaceAll(dl.URL, "{version}", versionOr(dl.Version, version))
			dest := dl.Destination
			if dest == "" {
				dest = path.Join("/usr/local/bin", dl.Name)
			}
			if dl.Extract {
				p.commands = append(p.commands,
					fmt.Sprintf("curl -fsSL %s | tar -xz -C %s", url, path.Dir(dest)))
			} else {
				p.commands = append(p.commands,
					fmt.Sprintf("curl -fsSL -o %s %s", dest, url),
					fmt.Sprintf("chmod +x %s", dest))
			}
			p.components = append(p.components, dl.Name)
		}
	}

	if install.Npm != nil {
		p.commands = append(p.commands,
			fmt.Sprintf("npm install -g %s@%s", install.Npm.Package, version))
		p.components = append(p.components, install.Npm.Package)
	}

	if install.Script != nil {
		timeout := time.Duration(install.Script.TimeoutSecs) * time.Second
		p.script = &scriptStep{
			localPath: install.Script.Path,
			args:      install.Script.Args,
			timeout:   timeout,
		}
		p.components = append(p.components, ext.Metadata.Name)
	}

	if len(p.commands) == 0 && p.script == nil {
		return nil, fmt.Errorf("manifest for %s declares no installable steps", ext.Metadata.Name)
	}
	return p, nil
}

// upgradePlan builds the upgrade steps for ext to toVersion. The
// reinstall strategy runs the remove plan followed by a fresh install;
// the default in-place strategy upgrades through the method's own
// mechanism.
func upgradePlan(ext *manifest.Extension, toVersion string) (*plan, error) {
	strategy := manifest.UpgradeInPlace
	if ext.Upgrade != nil && ext.Upgrade.Strategy != "" {
		strategy = ext.Upgrade.Strategy
	}

	if strategy == manifest.UpgradeReinstall {
		removal, err := removePlan(ext)
		if err != nil {
			return nil, err
		}
		install, err := installPlan(ext, toVersion)
		if err != nil {
			return nil, err
		}
		install.commands = append(removal.commands, install.commands...)
		return install, nil
	}

	p := &plan{}
	install := ext.Install

	if install.Apt != nil {
		p.commands = append(p.commands,
			"apt-get update",
			fmt.Sprintf("apt-get install --only-upgrade -y %s", strings.Join(install.Apt.Packages, " ")))
		p.components = append(p.components, install.Apt.Packages...)
	}
	if install.Mise != nil {
		p.commands = append(p.commands,
			fmt.Sprintf("mise use --global %s@%s", ext.Metadata.Name, toVersion))
		if install.Mise.ReshimAfterInstall {
			p.commands = append(p.commands, "mise reshim")
		}
		p.components = append(p.components, ext.Metadata.Name)
	}
	if install.Binary != nil {
		for _, dl := range install.Binary.Downloads {
			url := strings.ReplaceAll(dl.URL, "{version}", toVersion)
			dest := dl.Destination
			if dest == "" {
				dest = path.Join("/usr/local/bin", dl.Name)
			}
			if dl.Extract {
				p.commands = append(p.commands,
					fmt.Sprintf("curl -fsSL %s | tar -xz -C %s", url, path.Dir(dest)))
			} else {
				p.commands = append(p.commands,
					fmt.Sprintf("curl -fsSL -o %s %s", dest, url),
					fmt.Sprintf("chmod +x %s", dest))
			}
			p.components = append(p.components, dl.Name)
		}
	}
	if install.Npm != nil {
		p.commands = append(p.commands,
			fmt.Sprintf("npm install -g %s@%s", install.Npm.Package, toVersion))
		p.components = append(p.components, install.Npm.Package)
	}
	if install.Script != nil {
		timeout := time.Duration(install.Script.TimeoutSecs) * time.Second
		p.script = &scriptStep{
			localPath: install.Script.Path,
			args:      install.Script.Args,
			timeout:   timeout,
		}
		p.components = append(p.components, ext.Metadata.Name)
	}

	if len(p.commands) == 0 && p.script == nil {
		return nil, fmt.Errorf("manifest for %s declares no upgradable steps", ext.Metadata.Name)
	}
	return p, nil
}

// removePlan builds the removal steps for ext. Method-specific
// uninstall commands come first, then any paths the manifest asks to
// delete.
func removePlan(ext *manifest.Extension) (*plan, error) {
	p := &plan{}
	install := ext.Install

	if install.Mise != nil {
		p.commands = append(p.commands,
			fmt.Sprintf("mise uninstall %s", ext.Metadata.Name))
	}
	if install.Apt != nil {
		p.commands = append(p.commands,
			fmt.Sprintf("apt-get remove -y %s", strings.Join(install.Apt.Packages, " ")))
	}
	if install.Npm != nil {
		p.commands = append(p.commands,
			fmt.Sprintf("npm uninstall -g %s", install.Npm.Package))
	}
	if install.Binary != nil {
		for _, dl := range install.Binary.Downloads {
			dest := dl.Destination
			if dest == "" {
				dest = path.Join("/usr/local/bin", dl.Name)
			}
			p.commands = append(p.commands, fmt.Sprintf("rm -f %s", dest))
		}
	}

	if ext.Remove != nil {
		for _, rmPath := range ext.Remove.Paths {
			p.commands = append(p.commands, fmt.Sprintf("rm -rf %s", rmPath))
		}
	}

	if len(p.commands) == 0 {
		return nil, fmt.Errorf("manifest for %s declares no removal steps", ext.Metadata.Name)
	}
	return p, nil
}

func versionOr(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}
