package ac97

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// PortIO abstracts x86 port-mapped I/O. The driver performs every hardware
// access through this interface, which makes the register protocol testable
// against a simulated controller and portable across in/out backends.
//
// Port reads and writes do not fail at the ISA level; a backend that can
// fail (such as /dev/port) degrades to returning zeroes, matching what a
// floating bus would read.
type PortIO interface {
	In8(port uint32) uint8
	In16(port uint32) uint16
	In32(port uint32) uint32

	Out8(port uint32, val uint8)
	Out16(port uint32, val uint16)
	Out32(port uint32, val uint32)
}

// DevPort performs port I/O through the Linux /dev/port device, where the
// file offset selects the port number. Accesses whose width matches an
// inb/inw/inl transfer are issued as a single pread/pwrite so the kernel
// translates them into the equivalent single port instruction.
type DevPort struct {
	file *os.File
}

// OpenDevPort opens /dev/port for raw port I/O. Requires CAP_SYS_RAWIO.
func OpenDevPort() (*DevPort, error) {
	file, err := os.OpenFile("/dev/port", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open /dev/port: %w", err)
	}

	return &DevPort{file: file}, nil
}

// Close releases the underlying /dev/port handle.
func (d *DevPort) Close() error {
	if d == nil || d.file == nil {
		return nil
	}

	err := d.file.Close()
	d.file = nil

	return err
}

func (d *DevPort) In8(port uint32) uint8 {
	var buf [1]byte
	if n, err := unix.Pread(int(d.file.Fd()), buf[:], int64(port)); err != nil || n != 1 {
		return 0
	}

	return buf[0]
}

func (d *DevPort) In16(port uint32) uint16 {
	var buf [2]byte
	if n, err := unix.Pread(int(d.file.Fd()), buf[:], int64(port)); err != nil || n != 2 {
		return 0
	}

	return binary.LittleEndian.Uint16(buf[:])
}

func (d *DevPort) In32(port uint32) uint32 {
	var buf [4]byte
	if n, err := unix.Pread(int(d.file.Fd()), buf[:], int64(port)); err != nil || n != 4 {
		return 0
	}

	return binary.LittleEndian.Uint32(buf[:])
}

func (d *DevPort) Out8(port uint32, val uint8) {
	buf := [1]byte{val}
	_, _ = unix.Pwrite(int(d.file.Fd()), buf[:], int64(port))
}

func (d *DevPort) Out16(port uint32, val uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], val)
	_, _ = unix.Pwrite(int(d.file.Fd()), buf[:], int64(port))
}

func (d *DevPort) Out32(port uint32, val uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	_, _ = unix.Pwrite(int(d.file.Fd()), buf[:], int64(port))
}

// pollInterval is the delay between iterations of a bounded busy-wait.
const pollInterval = 10 * time.Microsecond

// waitFor polls cond every pollInterval until it reports true or the attempt
// budget is exhausted, and returns whether the condition was met. Every wait
// against the hardware goes through this helper; a false return is a timeout
// the caller logs and absorbs, never a fatal error, because the AC97
// protocols are defined to be self clearing.
func (c *Card) waitFor(attempts int, cond func() bool) bool {
	for i := 0; i < attempts; i++ {
		if cond() {
			return true
		}

		c.sleep(pollInterval)
	}

	return false
}
