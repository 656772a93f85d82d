package toolbroker

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"sidecar/domain"
	"sidecar/logger"
	"sidecar/utils"
)

// TerminalCommandTool runs a shell command in the workspace, grounded
// directly on coding/unix/run_command_activity.go's RunCommandActivity:
// same SIDE_-prefixed env var filtering, same ExitError-vs-real-error split.
// Per spec.md §4.B, the core enforces no timeout of its own: a command runs
// until it exits or props.Context is cancelled (e.g. the exchange's
// cancellation token fires). An explicit TimeoutSeconds is honored when the
// agent provides one, since that's a bound the agent itself chose.
type TerminalCommandTool struct {
	BaseDir string
}

func (TerminalCommandTool) Name() domain.ToolName { return domain.ToolTerminalCommand }

func (t TerminalCommandTool) Call(props domain.MessageProperties, input domain.ToolInput) (any, error) {
	params := input.TerminalCommand

	workingDir := t.BaseDir
	if params.Cwd != "" {
		workingDir = t.BaseDir + string(os.PathSeparator) + params.Cwd
	}

	ctx := context.Context(props.Context)
	if params.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", params.Command)
	cmd.Dir = workingDir

	filteredEnv := utils.Filter(os.Environ(), func(envVar string) bool {
		isSide := strings.HasPrefix(envVar, "SIDE_")
		if isSide {
			l := logger.Get()
			l.Debug().Str("envVar", envVar).Msg("filtered envVar with SIDE_ prefix")
		}
		return !isSide
	})
	cmd.Env = filteredEnv

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, err
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			exitCode = status.ExitStatus()
		}
		err = nil
	}

	return domain.TerminalCommandOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, err
}
