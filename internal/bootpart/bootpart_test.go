package bootpart

import (
	"fmt"
	"testing"

	"github.com/mgarrido/reluks/internal/config"
	"github.com/mgarrido/reluks/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lsblkArgs  = "lsblk -J -o NAME,TYPE,SIZE,PATH,MOUNTPOINT,FSTYPE"
	partedArgs = "parted -m /dev/sda unit MiB print free"
)

const luksOnlyInventory = `{
  "blockdevices": [
    {"name": "sda", "type": "disk", "size": "20G", "path": "/dev/sda",
     "children": [
       {"name": "sda1", "type": "part", "size": "20G", "path": "/dev/sda1", "fstype": "crypto_LUKS"}
     ]}
  ]
}`

const plainInventory = `{
  "blockdevices": [
    {"name": "sda", "type": "disk", "size": "20G", "path": "/dev/sda",
     "children": [
       {"name": "sda1", "type": "part", "size": "20G", "path": "/dev/sda1", "fstype": "ext4"}
     ]}
  ]
}`

const grownInventory = `{
  "blockdevices": [
    {"name": "sda", "type": "disk", "size": "20G", "path": "/dev/sda",
     "children": [
       {"name": "sda1", "type": "part", "size": "19G", "path": "/dev/sda1", "fstype": "ext4"},
       {"name": "sda2", "type": "part", "size": "1G", "path": "/dev/sda2"}
     ]}
  ]}`

const onePartTable = `BYT;
/dev/sda:20480MiB:scsi:512:512:gpt:ATA QEMU HARDDISK:;
1:1.00MiB:20000MiB:19999MiB:ext4::;
1:20000MiB:20480MiB:480MiB:free;`

func discard(string) {}

func TestLUKSTargetSkipsShrink(t *testing.T) {
	fake := &runner.Fake{
		Outputs: map[string][]string{
			lsblkArgs:  {luksOnlyInventory, luksOnlyInventory},
			partedArgs: {onePartTable},
		},
		// partition creation fails: no space was freed
		Fail: map[string]int{"parted /dev/sda --script mkpart primary ext4 -1050MiB -1MiB": 1},
	}

	err := Ensure(fake, discard, config.Default(), "/dev/sda1")
	require.Error(t, err)

	assert.False(t, fake.Ran("e2fsck"), "a raw LUKS container must not be fsck'd from outside")
	assert.False(t, fake.Ran("resize2fs"))
	assert.False(t, fake.Ran("umount"))
	assert.True(t, fake.Ran("parted", "/dev/sda", "--script", "mkpart"), "creation is still attempted directly")
}

func TestNewPartitionNotDetected(t *testing.T) {
	fake := &runner.Fake{
		Outputs: map[string][]string{
			// identical snapshots before and after creation
			lsblkArgs:  {plainInventory, plainInventory},
			partedArgs: {onePartTable},
		},
	}

	err := Ensure(fake, discard, config.Default(), "/dev/sda1")
	assert.ErrorIs(t, err, ErrNewPartitionNotDetected)

	assert.False(t, fake.Ran("mkfs.ext4"), "no format without a detected partition")
	assert.False(t, fake.Ran("mount"))
	assert.False(t, fake.Ran("bash"))
}

func TestCreatesFormatsAndRegisters(t *testing.T) {
	cfg := config.Default()
	bootUUID := "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"
	fake := &runner.Fake{
		Outputs: map[string][]string{
			lsblkArgs:                          {plainInventory, grownInventory},
			partedArgs:                         {onePartTable, onePartTable},
			"blkid -s UUID -o value /dev/sda2": {bootUUID},
		},
	}

	err := Ensure(fake, discard, cfg, "/dev/sda1")
	require.NoError(t, err)

	assert.True(t, fake.Ran("parted", "/dev/sda", "--script", "mkpart", "primary", "ext4", "-1050MiB", "-1MiB"))
	assert.True(t, fake.Ran("mkfs.ext4", "-L", "BOOT", "/dev/sda2"))
	assert.True(t, fake.Ran("mount", "/dev/sda2", cfg.BootScratch))
	assert.True(t, fake.Ran("bash", "-c", "cp -a /boot/. "+cfg.BootScratch+"/"))
	assert.True(t, fake.Ran("umount", cfg.BootScratch))
	assert.True(t, fake.Ran("bash", "-c", fmt.Sprintf("echo 'UUID=%s /boot ext4 defaults 0 2' >> /etc/fstab", bootUUID)))
}

func TestMalformedUUIDRefused(t *testing.T) {
	fake := &runner.Fake{
		Outputs: map[string][]string{
			lsblkArgs:                          {plainInventory, grownInventory},
			partedArgs:                         {onePartTable, onePartTable},
			"blkid -s UUID -o value /dev/sda2": {"not-a-uuid"},
		},
	}

	err := Ensure(fake, discard, config.Default(), "/dev/sda1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed UUID")
	assert.False(t, fake.Ran("bash", "-c", "echo 'UUID=not-a-uuid /boot ext4 defaults 0 2' >> /etc/fstab"))
}
