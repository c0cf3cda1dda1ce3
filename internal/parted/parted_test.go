package parted

import (
	"testing"

	"github.com/mgarrido/reluks/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const partedArgs = "parted -m /dev/sda unit MiB print free"

const gptFixture = `BYT;
/dev/sda:20480MiB:scsi:512:512:gpt:ATA QEMU HARDDISK:;
1:0.02MiB:1.00MiB:0.98MiB:free;
1:1.00MiB:10000MiB:9999MiB:ext4::;
2:10000MiB:20000MiB:10000MiB:ext4::;
1:20000MiB:20480MiB:480MiB:free;`

const emptyFixture = `BYT;
/dev/sda:20480MiB:scsi:512:512:msdos:ATA QEMU HARDDISK:;
1:0.02MiB:20480MiB:20480MiB:free;`

func fakeWith(out string) *runner.Fake {
	return &runner.Fake{Outputs: map[string][]string{partedArgs: {out}}}
}

func TestTableInfo(t *testing.T) {
	info, err := TableInfo(fakeWith(gptFixture), "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, "gpt", info.Scheme)
	assert.Equal(t, 2, info.LastPartition, "free-space rows do not count as partitions")
}

func TestTableInfoNoPartitions(t *testing.T) {
	info, err := TableInfo(fakeWith(emptyFixture), "/dev/sda")
	assert.ErrorIs(t, err, ErrNoPartitions)
	assert.Equal(t, "msdos", info.Scheme, "scheme is reported even for an empty table")
}

func TestPartitionEndMiB(t *testing.T) {
	end, err := PartitionEndMiB(fakeWith(gptFixture), "/dev/sda", 2)
	require.NoError(t, err)
	assert.Equal(t, 20000.0, end)

	// the free row numbered 1 must not shadow partition 1
	end, err = PartitionEndMiB(fakeWith(gptFixture), "/dev/sda", 1)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, end)
}

func TestPartitionEndMiBIdempotent(t *testing.T) {
	fake := fakeWith(gptFixture)
	first, err := PartitionEndMiB(fake, "/dev/sda", 2)
	require.NoError(t, err)
	second, err := PartitionEndMiB(fake, "/dev/sda", 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPartitionEndMiBNotFound(t *testing.T) {
	_, err := PartitionEndMiB(fakeWith(gptFixture), "/dev/sda", 5)
	assert.ErrorIs(t, err, ErrGeometryNotFound)
}
