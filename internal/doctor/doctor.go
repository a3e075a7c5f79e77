// Package doctor runs startup diagnostics for the deskhand daemon.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/deskhand/internal/config"
	"github.com/basket/deskhand/internal/ledger"
	"github.com/basket/deskhand/internal/vault"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkVault,
		checkReasonCLI,
		checkLedger,
		checkTelegram,
		checkPermissions,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}
	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkVault(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Vault", Status: "SKIP", Message: "Config missing"}
	}
	fi, err := os.Stat(cfg.VaultPath)
	if err != nil {
		return CheckResult{
			Name: "Vault", Status: "WARN",
			Message: "Vault directory missing; it will be created on first run",
			Detail:  cfg.VaultPath,
		}
	}
	if !fi.IsDir() {
		return CheckResult{Name: "Vault", Status: "FAIL", Message: fmt.Sprintf("%s is not a directory", cfg.VaultPath)}
	}
	var missing []string
	for _, folder := range vault.StatusFolders {
		if _, err := os.Stat(filepath.Join(cfg.VaultPath, folder)); err != nil {
			missing = append(missing, folder)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Name: "Vault", Status: "WARN",
			Message: "Vault structure incomplete; missing folders will be created on start",
			Detail:  strings.Join(missing, ", "),
		}
	}
	return CheckResult{Name: "Vault", Status: "PASS", Message: cfg.VaultPath}
}

func checkReasonCLI(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Reason CLI", Status: "SKIP", Message: "Config missing"}
	}
	path, err := exec.LookPath(cfg.Reason.Command)
	if err != nil {
		return CheckResult{
			Name: "Reason CLI", Status: "FAIL",
			Message: fmt.Sprintf("%q not found in PATH", cfg.Reason.Command),
			Detail:  "Install the reasoning CLI or set DESKHAND_REASON_COMMAND",
		}
	}
	return CheckResult{Name: "Reason CLI", Status: "PASS", Message: path}
}

func checkLedger(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Ledger", Status: "SKIP", Message: "Config missing"}
	}
	if !cfg.LedgerEnabled {
		return CheckResult{Name: "Ledger", Status: "SKIP", Message: "Disabled in config"}
	}
	led, err := ledger.Open(ledger.DefaultPath(cfg.HomeDir))
	if err != nil {
		return CheckResult{Name: "Ledger", Status: "FAIL", Message: "Cannot open sqlite ledger", Detail: err.Error()}
	}
	defer led.Close()
	if _, err := led.ErrorsSince(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		return CheckResult{Name: "Ledger", Status: "FAIL", Message: "Ledger query failed", Detail: err.Error()}
	}
	return CheckResult{Name: "Ledger", Status: "PASS", Message: ledger.DefaultPath(cfg.HomeDir)}
}

func checkTelegram(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Telegram", Status: "SKIP", Message: "Config missing"}
	}
	if !cfg.Watchers.Telegram.Enabled {
		return CheckResult{Name: "Telegram", Status: "SKIP", Message: "Watcher disabled"}
	}
	if strings.TrimSpace(cfg.Watchers.Telegram.Token) == "" {
		return CheckResult{
			Name: "Telegram", Status: "FAIL",
			Message: "Watcher enabled but no bot token",
			Detail:  "Set TELEGRAM_BOT_TOKEN or watchers.telegram.token",
		}
	}
	if len(cfg.Watchers.Telegram.AllowedIDs) == 0 {
		return CheckResult{
			Name: "Telegram", Status: "WARN",
			Message: "No allowed_ids configured; all senders will be rejected",
		}
	}
	return CheckResult{Name: "Telegram", Status: "PASS", Message: fmt.Sprintf("%d allowed sender(s)", len(cfg.Watchers.Telegram.AllowedIDs))}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	probe := filepath.Join(cfg.HomeDir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: "Home directory not writable", Detail: err.Error()}
	}
	_ = os.Remove(probe)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: fmt.Sprintf("%s is writable", cfg.HomeDir)}
}
