package workspace

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openclaw/launcher/pkg/config"
	"github.com/openclaw/launcher/pkg/log"
)

// ConfigName is the runtime config file written under <id>/config/.
const ConfigName = "openclaw.json"

// IdentityName is the wallet marker file written into the workspace.
const IdentityName = "IDENTITY.md"

// Provisioner materializes per-instance directories: a config dir holding
// the application's runtime config and a workspace dir bind-mounted into the
// container.
type Provisioner struct {
	// Root is the directory holding one subdirectory per instance.
	Root string
	// TemplateDir seeds new workspaces. May not exist; seeding is optional.
	TemplateDir string

	logger zerolog.Logger
}

// New returns a provisioner writing under root.
func New(root, templateDir string) *Provisioner {
	return &Provisioner{
		Root:        root,
		TemplateDir: templateDir,
		logger:      log.WithComponent("workspace"),
	}
}

// ConfigDir returns the config directory for an instance.
func (p *Provisioner) ConfigDir(id string) string {
	return filepath.Join(p.Root, id, "config")
}

// WorkspaceDir returns the workspace directory for an instance.
func (p *Provisioner) WorkspaceDir(id string) string {
	return filepath.Join(p.Root, id, "workspace")
}

// Provision creates the instance directories, seeds the workspace from the
// template set, and writes the runtime config and identity marker.
//
// Template seeding never overwrites an existing file and never fails the
// provision; everything else is fatal. The config and identity files are
// rewritten on every call.
func (p *Provisioner) Provision(id, pubkey, gatewayToken string) error {
	configDir := p.ConfigDir(id)
	workspaceDir := p.WorkspaceDir(id)

	for _, dir := range []string{configDir, workspaceDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	p.seedTemplates(id, workspaceDir)

	if err := p.writeConfig(configDir, gatewayToken); err != nil {
		return err
	}
	return p.writeIdentity(workspaceDir, id, pubkey)
}

// seedTemplates copies each regular file from the template dir into the
// workspace, skipping any destination that already exists so restarts never
// clobber tenant edits. Failures are logged, not surfaced.
func (p *Provisioner) seedTemplates(id, workspaceDir string) {
	entries, err := os.ReadDir(p.TemplateDir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn().Err(err).Str("instance", id).Msg("template dir unreadable, skipping seed")
		}
		return
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		dest := filepath.Join(workspaceDir, entry.Name())
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		if err := copyFile(filepath.Join(p.TemplateDir, entry.Name()), dest); err != nil {
			p.logger.Warn().Err(err).Str("instance", id).Str("file", entry.Name()).
				Msg("template seed failed")
		}
	}
}

// gatewayConfig mirrors the structure the application expects in its
// runtime config file.
type gatewayConfig struct {
	Agents struct {
		Defaults struct {
			Workspace              string `json:"workspace"`
			BootstrapMaxChars      int    `json:"bootstrapMaxChars"`
			BootstrapTotalMaxChars int    `json:"bootstrapTotalMaxChars"`
		} `json:"defaults"`
	} `json:"agents"`
	Gateway struct {
		Port int    `json:"port"`
		Mode string `json:"mode"`
		Bind string `json:"bind"`
		Auth struct {
			Mode  string `json:"mode"`
			Token string `json:"token"`
		} `json:"auth"`
		ControlUI struct {
			AllowInsecureAuth bool `json:"allowInsecureAuth"`
		} `json:"controlUi"`
	} `json:"gateway"`
}

func (p *Provisioner) writeConfig(configDir, gatewayToken string) error {
	var cfg gatewayConfig
	cfg.Agents.Defaults.Workspace = "/home/node/.openclaw/workspace"
	cfg.Agents.Defaults.BootstrapMaxChars = 30000
	cfg.Agents.Defaults.BootstrapTotalMaxChars = 80000
	cfg.Gateway.Port = config.ContainerPort
	cfg.Gateway.Mode = "local"
	cfg.Gateway.Bind = "lan"
	cfg.Gateway.Auth.Mode = "token"
	cfg.Gateway.Auth.Token = gatewayToken
	cfg.Gateway.ControlUI.AllowInsecureAuth = true

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing runtime config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, ConfigName), data, 0o600); err != nil {
		return fmt.Errorf("writing runtime config: %w", err)
	}
	return nil
}

func (p *Provisioner) writeIdentity(workspaceDir, id, pubkey string) error {
	body := fmt.Sprintf(
		"# Identity\n\n- **Wallet:** `%s`\n- **Instance:** `%s`\n- **Created:** %s\n",
		pubkey, id, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
	)
	if err := os.WriteFile(filepath.Join(workspaceDir, IdentityName), []byte(body), 0o600); err != nil {
		return fmt.Errorf("writing identity marker: %w", err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
