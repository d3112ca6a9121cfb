package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/andrej220/webdeploy/pkg/lg"
)

const maxLineSize = 1024 * 1024

// LocalExecutor runs commands through "sh -c" on this machine.
type LocalExecutor struct {
	Dir string
}

func NewLocalExecutor(dir string) *LocalExecutor {
	return &LocalExecutor{Dir: dir}
}

func (e *LocalExecutor) Run(ctx context.Context, cmd Command) (*Result, error) {
	logger := lg.FromContext(ctx)
	line := cmd.Line
	if cmd.Sudo {
		line = sudoLine(cmd.Line, false)
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, "sh", "-c", line)
	c.Dir = e.Dir
	c.Stdout = &stdout
	c.Stderr = &stderr

	logger.Debug("running local command", lg.String("cmd", cmd.String()), lg.String("dir", e.Dir))
	start := time.Now()
	err := c.Run()
	outLines, _ := readLines(&stdout)
	errLines, _ := readLines(&stderr)
	res := &Result{
		Command:    cmd.String(),
		ExitStatus: 0,
		Stdout:     outLines,
		Stderr:     errLines,
		Duration:   time.Since(start),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			res.ExitStatus = exitErr.ExitCode()
			return res, &ExitError{Result: res}
		}
		res.ExitStatus = -1
		return res, fmt.Errorf("run %q: %w", cmd.String(), err)
	}
	return res, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		// keep draining so the writer side never blocks
		_, _ = io.Copy(io.Discard, r)
		return lines, err
	}
	return lines, nil
}
