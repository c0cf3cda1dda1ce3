package runner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectSink(lines *[]string) Sink {
	return func(line string) { *lines = append(*lines, line) }
}

func TestExecStreamsLinesInOrder(t *testing.T) {
	var lines []string
	err := Exec{}.Stream(collectSink(&lines), "sh", "-c", "echo one; echo two >&2; echo three")
	require.NoError(t, err)

	require.Len(t, lines, 4)
	assert.Equal(t, "$ sh -c echo one; echo two >&2; echo three", lines[0])
	assert.Equal(t, []string{"one", "two", "three"}, lines[1:])
}

func TestExecStreamReportsExitCode(t *testing.T) {
	var lines []string
	err := Exec{}.Stream(collectSink(&lines), "sh", "-c", "exit 3")
	require.Error(t, err)

	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.Code)
	assert.Equal(t, []string{"sh", "-c", "exit 3"}, ee.Argv)
	assert.Contains(t, ee.Error(), "rc=3")
}

func TestExecTryStreamDoesNotPropagate(t *testing.T) {
	var lines []string
	code := Exec{}.TryStream(collectSink(&lines), "sh", "-c", "echo out; exit 7")
	assert.Equal(t, 7, code)
	assert.Contains(t, lines, "out")
}

func TestExecStreamStartFailure(t *testing.T) {
	var lines []string
	err := Exec{}.Stream(collectSink(&lines), "/nonexistent/definitely-not-a-tool")
	require.Error(t, err)

	var ee *ExitError
	assert.False(t, errors.As(err, &ee), "start failure is not an ExitError")
}

func TestExecOutputTrims(t *testing.T) {
	out, err := Exec{}.Output("sh", "-c", "printf '  value  \\n'")
	require.NoError(t, err)
	assert.Equal(t, "value", out)
}

func TestExecAvailable(t *testing.T) {
	assert.True(t, Exec{}.Available("sh"))
	assert.False(t, Exec{}.Available("definitely-not-a-tool-xyz"))
}

func TestFakeOutputQueue(t *testing.T) {
	f := &Fake{Outputs: map[string][]string{
		"lsblk": {"first", "second"},
	}}

	out, err := f.Output("lsblk")
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, _ = f.Output("lsblk")
	assert.Equal(t, "second", out)

	// last entry repeats
	out, _ = f.Output("lsblk")
	assert.Equal(t, "second", out)

	assert.True(t, f.Ran("lsblk"))
	assert.False(t, f.Ran("parted"))
}
