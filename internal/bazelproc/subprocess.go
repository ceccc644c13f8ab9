// Copyright 2025 EngFlow Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bazelproc

import (
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// ActivePID is the process-wide slot the installed Ctrl-C handler reads to
// forward SIGINT to the running child's process group. It's a package-level
// variable rather than something threaded through every call because
// exactly one build subprocess runs at a time, and the signal handler has
// no other way to reach it.
var ActivePID = struct {
	set func(pid int)
	get func() int
}{}

func init() {
	var pid int
	ActivePID.set = func(p int) { pid = p }
	ActivePID.get = func() int { return pid }
}

// ActivePIDGet exposes ActivePID.get to callers outside this package, since
// the struct's fields are unexported.
func ActivePIDGet() int {
	return ActivePID.get()
}

// Spawn runs the tool as a subprocess, TTY-aware: using a real pty with
// output echoed to the terminal when one is attached, or plain piped
// stdout/stderr otherwise. It records the child's
// pid via ActivePID for the duration of the call so a concurrent Ctrl-C
// handler can forward signals to it, and puts the child in its own
// process group so that forwarding reaches any grandchildren too.
func Spawn(argv []string, dir string, stdout, stderr io.Writer) (exitCode int, err error) {
	cmd:= exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if isattyStdout() {
		ptmx, startErr:= pty.Start(cmd)
		if startErr != nil {
			return -1, startErr
		}
		defer ptmx.Close()
		ActivePID.set(cmd.Process.Pid)
		defer ActivePID.set(0)
		go io.Copy(stdout, ptmx)
		err = cmd.Wait()
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		if startErr:= cmd.Start(); startErr != nil {
			return -1, startErr
		}
		ActivePID.set(cmd.Process.Pid)
		defer ActivePID.set(0)
		err = cmd.Wait()
	}

	if err == nil {
		return 0, nil
	}
	if exitErr, ok:= err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func isattyStdout() bool {
	info, statErr:= os.Stdout.Stat()
	if statErr != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
