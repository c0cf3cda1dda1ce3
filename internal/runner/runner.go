package runner

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Sink receives one line of output (or a log message) at a time. Every
// component in this tool reports progress through an injected Sink so the
// front end decides how lines are displayed.
type Sink func(line string)

// ExitError reports an external command that finished with a non-zero exit
// status. It carries the full argument vector so the failure can be reported
// verbatim to the operator.
type ExitError struct {
	Argv []string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed (rc=%d): %s", e.Code, strings.Join(e.Argv, " "))
}

// Runner abstracts external command execution so destructive operations can
// be exercised in tests without touching real devices.
type Runner interface {
	// Stream runs argv to completion, writing each line of merged
	// stdout+stderr to sink as it is produced. The command line itself is
	// logged to sink before execution. A non-zero exit status is returned
	// as an *ExitError.
	Stream(sink Sink, argv ...string) error

	// TryStream is Stream without failure propagation, for best-effort
	// steps. It returns the command's exit code (-1 if it could not start).
	TryStream(sink Sink, argv ...string) int

	// Output runs argv and returns its trimmed stdout.
	Output(argv ...string) (string, error)

	// Available reports whether the named tool can be found on PATH.
	Available(name string) bool
}

// Exec is the Runner backed by os/exec.
type Exec struct{}

func (Exec) Stream(sink Sink, argv ...string) error {
	code, err := stream(sink, argv)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Argv: argv, Code: code}
	}
	return nil
}

func (Exec) TryStream(sink Sink, argv ...string) int {
	code, err := stream(sink, argv)
	if err != nil {
		sink(fmt.Sprintf("[WARN] %v", err))
		return -1
	}
	return code
}

func (Exec) Output(argv ...string) (string, error) {
	out, err := exec.Command(argv[0], argv[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", argv[0], err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (Exec) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// stream runs argv with stdout and stderr merged into a single pipe and
// drains it fully before collecting the exit status, so ordering between
// steps is guaranteed by strict sequencing.
func stream(sink Sink, argv []string) (int, error) {
	sink("$ " + strings.Join(argv, " "))

	cmd := exec.Command(argv[0], argv[1:]...)
	r, w, err := os.Pipe()
	if err != nil {
		return -1, fmt.Errorf("pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return -1, fmt.Errorf("%s: %w", argv[0], err)
	}
	w.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sink(scanner.Text())
	}
	r.Close()

	err = cmd.Wait()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return ee.ExitCode(), nil
		}
		return -1, fmt.Errorf("%s: %w", argv[0], err)
	}
	return 0, nil
}
