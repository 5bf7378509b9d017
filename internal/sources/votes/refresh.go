// Package votes runs the external voting-record refresh tool.
package votes

import (
	"context"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Config controls the refresh tool invocation.
type Config struct {
	// Command and its arguments; empty disables the tool.
	Command []string
	Timeout time.Duration
}

// Tool shells out to the vote-data refresh command. Forced voting_record
// fetches are gated on a successful run.
type Tool struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Tool.
func New(cfg Config, logger *zap.Logger) *Tool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{cfg: cfg, logger: logger}
}

// Run executes the refresh command and reports whether it succeeded.
func (t *Tool) Run(ctx context.Context, force bool) bool {
	if len(t.cfg.Command) == 0 {
		t.logger.Warn("vote refresh command not configured")
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	args := t.cfg.Command[1:]
	if force {
		args = append(append([]string(nil), args...), "--force")
	}
	cmd := exec.CommandContext(ctx, t.cfg.Command[0], args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.logger.Warn("vote refresh command failed",
			zap.Error(err),
			zap.ByteString("output", out))
		return false
	}
	t.logger.Info("vote refresh command completed",
		zap.String("command", t.cfg.Command[0]))
	return true
}
