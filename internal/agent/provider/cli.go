package provider

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"memoryd/internal/config"
	"memoryd/internal/llm"
)

// CLI is the CLI-subprocess Agent provider variant from spec.md §4.3: it
// spawns an external binary with the prompt on a temp-file round-trip,
// reads back a final-message file, and enforces a SIGTERM timeout. Chat
// passes a usage-file path to the binary but does not read it;
// ParseUsageFile parses that file's token-usage line.
type CLI struct {
	cfg config.CLIProviderConfig
}

func NewCLI(cfg config.CLIProviderConfig) *CLI { return &CLI{cfg: cfg} }

func (c *CLI) Name() string { return "cli" }

// Available reports whether the configured binary can be found on PATH,
// used by the "auto" fallback policy to prefer the CLI provider only when
// it's actually installed.
func (c *CLI) Available() bool {
	if c.cfg.Binary == "" {
		return false
	}
	_, err := exec.LookPath(c.cfg.Binary)
	return err == nil
}

func (c *CLI) Chat(ctx context.Context, msgs []llm.Message, model string) (llm.Message, error) {
	prompt := renderPromptFile(msgs)

	dir, err := os.MkdirTemp("", "memoryd-cli-*")
	if err != nil {
		return llm.Message{}, fmt.Errorf("create cli temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	promptPath := filepath.Join(dir, "prompt.txt")
	finalPath := filepath.Join(dir, "final_message.txt")
	usagePath := filepath.Join(dir, "usage.txt")
	if err := os.WriteFile(promptPath, []byte(prompt), 0o600); err != nil {
		return llm.Message{}, fmt.Errorf("write cli prompt file: %w", err)
	}

	args := append([]string{}, c.cfg.Args...)
	if c.cfg.ReasoningEffort != "" {
		args = append(args, "--reasoning-effort", c.cfg.ReasoningEffort)
	}
	args = append(args, "--prompt-file", promptPath, "--final-message-file", finalPath, "--usage-file", usagePath)

	timeout := time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, c.cfg.Binary, args...)
	cmd.Env = os.Environ()
	if c.cfg.OSSBridge && c.cfg.BridgeHostURL != "" {
		cmd.Env = append(cmd.Env, "MEMORYD_CLI_BRIDGE_HOST_URL="+c.cfg.BridgeHostURL)
	}
	// Run in its own process group so a SIGTERM on timeout reaches any
	// children the binary spawns, not just the direct child.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	out, err := cmd.CombinedOutput()
	if cctx.Err() != nil {
		return llm.Message{}, fmt.Errorf("cli provider timed out after %s: %w", timeout, cctx.Err())
	}
	if err != nil {
		log.Error().Err(err).Str("binary", c.cfg.Binary).Str("output", truncate(string(out), 2000)).Msg("cli_provider_error")
		return llm.Message{}, fmt.Errorf("cli provider %q failed: %w: %s", c.cfg.Binary, err, truncate(string(out), 500))
	}

	finalMsg, err := os.ReadFile(finalPath)
	if err != nil {
		return llm.Message{}, fmt.Errorf("cli provider produced no final message file: %w", err)
	}
	return llm.Message{Role: "assistant", Content: strings.TrimSpace(string(finalMsg))}, nil
}

// ParseUsageFile reads a CLI usage file containing a single token-count
// line, per spec.md §4.3's "parses final-message file and a token-usage
// line". Accepts either a bare integer or "tokens=<n>".
func ParseUsageFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(line, "tokens=")
		if n, err := strconv.Atoi(line); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("no usage value found in %s", path)
}

func renderPromptFile(msgs []llm.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", m.Role, m.Content)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
