package codex

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Output capture limits. The per-tick caps bound how much scheduler
// time one noisy child can take; the capture cap bounds memory.
const (
	MaxCaptureBytes       = 200_000
	MaxDrainBytesPerTick  = 64_000
	MaxDrainChunksPerTick = 16

	readChunkSize = 8192
)

// Child is a spawned external agent whose combined output is drained
// through a non-blocking pipe. The owner calls Drain on its scheduling
// ticks, Running to poll for exit, and Close when done with the record.
type Child struct {
	pid    int
	proc   *os.Process
	readFD int
	fdOpen bool

	capture   strings.Builder
	captured  int
	truncated bool

	exited   bool
	exitCode int
}

// Start launches argv in dir with stdout and stderr merged into a pipe
// whose read end is set non-blocking.
func Start(argv []string, dir string) (*Child, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("failed to execute: empty command")
	}
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	readFD, writeFD := p[0], p[1]
	if err := unix.SetNonblock(readFD, true); err != nil {
		unix.Close(readFD)
		unix.Close(writeFD)
		return nil, fmt.Errorf("setting pipe non-blocking: %w", err)
	}

	sink := os.NewFile(uintptr(writeFD), "codex-output")
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = sink
	cmd.Stderr = sink
	// Own process group, so Terminate can reach grandchildren too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err := cmd.Start()
	sink.Close()
	if err != nil {
		unix.Close(readFD)
		return nil, fmt.Errorf("failed to execute %s: %v", strings.Join(argv, " "), err)
	}
	return &Child{
		pid:    cmd.Process.Pid,
		proc:   cmd.Process,
		readFD: readFD,
		fdOpen: true,
	}, nil
}

// Pid returns the child's process id.
func (c *Child) Pid() int {
	return c.pid
}

// Drain reads whatever output the child has produced. With all unset it
// honors the per-tick caps; with all set it reads until the pipe is
// empty or closed. Bytes past MaxCaptureBytes are consumed but dropped,
// flagging the capture truncated.
func (c *Child) Drain(all bool) {
	if !c.fdOpen {
		return
	}
	buf := make([]byte, readChunkSize)
	drainedBytes := 0
	drainedChunks := 0
	for {
		if !all {
			if drainedBytes >= MaxDrainBytesPerTick {
				break
			}
			if drainedChunks >= MaxDrainChunksPerTick {
				break
			}
		}
		n, err := unix.Read(c.readFD, buf)
		if err != nil || n <= 0 {
			break
		}
		drainedBytes += n
		drainedChunks++
		if c.captured >= MaxCaptureBytes {
			c.truncated = true
			continue
		}
		take := n
		if remaining := MaxCaptureBytes - c.captured; take > remaining {
			take = remaining
			c.truncated = true
		}
		c.capture.Write(buf[:take])
		c.captured += take
	}
}

// Output returns the captured text, trimmed, with a truncation marker
// when the capture cap was hit.
func (c *Child) Output() string {
	out := strings.TrimSpace(c.capture.String())
	if c.truncated {
		if out == "" {
			return "[output truncated]"
		}
		return out + "\n[output truncated]"
	}
	return out
}

// Running polls the child without blocking, reaping it on exit.
func (c *Child) Running() bool {
	if c.exited {
		return false
	}
	var ws unix.WaitStatus
	pid, err := unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
	for err == unix.EINTR {
		pid, err = unix.Wait4(c.pid, &ws, unix.WNOHANG, nil)
	}
	if err != nil {
		// ECHILD: someone else reaped it; treat as exited.
		c.exited = true
		return false
	}
	if pid == 0 {
		return true
	}
	c.exited = true
	c.exitCode = exitCodeFromStatus(ws)
	return false
}

// ExitCode returns the exit code recorded when the child was reaped; a
// signal death reports the negated signal number.
func (c *Child) ExitCode() int {
	return c.exitCode
}

// Terminate stops the child: SIGTERM, up to grace of polling, then
// SIGKILL. Remaining output is drained and the pipe stays open for
// Output.
func (c *Child) Terminate(grace time.Duration) {
	if c.Running() {
		c.signal(unix.SIGTERM)
		deadline := time.Now().Add(grace)
		for c.Running() && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		if c.Running() {
			c.signal(unix.SIGKILL)
			var ws unix.WaitStatus
			pid, err := unix.Wait4(c.pid, &ws, 0, nil)
			for err == unix.EINTR {
				pid, err = unix.Wait4(c.pid, &ws, 0, nil)
			}
			if err == nil && pid == c.pid {
				c.exited = true
				c.exitCode = exitCodeFromStatus(ws)
			}
		}
	}
	c.Drain(true)
}

// signal targets the child's process group, falling back to the single
// process when the group is already gone.
func (c *Child) signal(sig unix.Signal) {
	if err := unix.Kill(-c.pid, sig); err != nil {
		_ = c.proc.Signal(sig)
	}
}

// Close releases the output pipe.
func (c *Child) Close() {
	if c.fdOpen {
		unix.Close(c.readFD)
		c.fdOpen = false
	}
}

func exitCodeFromStatus(ws unix.WaitStatus) int {
	if ws.Signaled() {
		return -int(ws.Signal())
	}
	return ws.ExitStatus()
}
