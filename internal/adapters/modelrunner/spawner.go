package modelrunner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/okian/cognicare/pkg/logger"
)

// Spawner starts a runner and returns a duplex connection to it.
type Spawner interface {
	Spawn(ctx context.Context) (io.ReadWriteCloser, error)
}

// ProcessSpawner runs the model runner as a child process speaking the
// framed protocol over stdin and stdout. Stderr lines are logged.
type ProcessSpawner struct {
	Command string
	Args    []string
	Logger  logger.Logger
}

// Spawn starts the process. The process outlives ctx and is stopped by
// closing the returned connection.
func (s *ProcessSpawner) Spawn(ctx context.Context) (io.ReadWriteCloser, error) {
	if s.Command == "" {
		return nil, errors.New("no runner command configured")
	}
	log := s.Logger
	if log == nil {
		log = logger.Nop()
	}

	cmd := exec.Command(s.Command, s.Args...) //nolint:gosec,noctx // command comes from config; lifetime is managed by Close
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.Command, err)
	}

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Debug(ctx, "model runner", logger.String("line", sc.Text()))
		}
	}()

	log.Info(ctx, "model runner started", logger.String("command", s.Command), logger.Int("pid", cmd.Process.Pid))
	return &processConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (c *processConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *processConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Close ends the child: stdin is closed so it can exit, then it is killed
// and reaped.
func (c *processConn) Close() error {
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
	return nil
}
