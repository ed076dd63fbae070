// Package proc configures helper subprocesses so that cancelling their context also
// stops any children they spawned.
package proc

import (
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes after the process is killed.
const waitDelay = 5 * time.Second

// Configure makes cmd run in its own process group where supported.
// The command must be created with exec.CommandContext for cancellation to apply.
func Configure(cmd *exec.Cmd) *exec.Cmd {
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	return cmd
}
