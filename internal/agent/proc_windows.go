//go:build windows

package agent

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}
