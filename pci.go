package ac97

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// PCI configuration space registers used during detection.
const (
	PCIR_VENDOR   = 0x00
	PCIR_DEVICE   = 0x02
	PCIR_COMMAND  = 0x04
	PCIR_NAMBAR   = 0x10 // native audio mixer base address (codec registers)
	PCIR_NABMBAR  = 0x14 // native audio bus mastering base address
	PCIR_INTR_LN  = 0x3c // interrupt line
	PCIR_ICH4_CFG = 0x41 // ICH4 config byte, bit 0 enables legacy I/O space

	pciCommandIO     = 0x0001
	pciCommandMaster = 0x0004
)

// ErrNoDevice is returned when no supported controller is present.
var ErrNoDevice = errors.New("no supported AC97 controller found")

// ErrNoBusMaster is returned when a required base address register still
// reads as zero after detection tried to assign one.
var ErrNoBusMaster = errors.New("bus-master base address not set")

// ConfigSpace gives register-level access to the PCI configuration space of
// one resolved device. It stands in for the platform's PCI BIOS/firmware
// services; the driver core only reads BARs and the interrupt line and
// flips the command and ICH4 legacy-I/O bits through it.
type ConfigSpace interface {
	Read8(reg int) uint8
	Read16(reg int) uint16
	Read32(reg int) uint32

	Write8(reg int, val uint8)
	Write16(reg int, val uint16)
	Write32(reg int, val uint32)

	Close() error
}

// SysfsConfig accesses PCI configuration space through the config file that
// Linux exposes under /sys/bus/pci/devices.
type SysfsConfig struct {
	file *os.File
}

// FindPCIDevice scans /sys/bus/pci/devices for the first device matching one
// of the supported (vendor, device) pairs and returns its configuration
// space together with the resolved register profile.
func FindPCIDevice() (*SysfsConfig, Profile, error) {
	const root = "/sys/bus/pci/devices"

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, Profile{}, fmt.Errorf("could not read %s: %w", root, err)
	}

	for _, entry := range entries {
		dir := filepath.Join(root, entry.Name())

		vendor, err := readSysfsHex(filepath.Join(dir, "vendor"))
		if err != nil {
			continue
		}

		device, err := readSysfsHex(filepath.Join(dir, "device"))
		if err != nil {
			continue
		}

		profile, err := ResolveProfile(uint16(vendor), uint16(device))
		if err != nil {
			continue
		}

		file, err := os.OpenFile(filepath.Join(dir, "config"), os.O_RDWR, 0)
		if err != nil {
			return nil, Profile{}, fmt.Errorf("failed to open config space for %s: %w", entry.Name(), err)
		}

		return &SysfsConfig{file: file}, profile, nil
	}

	return nil, Profile{}, ErrNoDevice
}

// readSysfsHex parses a sysfs attribute containing a single hex value such
// as "0x8086".
func readSysfsHex(path string) (uint64, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	s := strings.TrimSpace(string(content))
	s = strings.TrimPrefix(s, "0x")

	return strconv.ParseUint(s, 16, 32)
}

// Close releases the config space handle.
func (s *SysfsConfig) Close() error {
	if s == nil || s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil

	return err
}

func (s *SysfsConfig) read(reg, width int) uint32 {
	buf := make([]byte, width)
	if n, err := unix.Pread(int(s.file.Fd()), buf, int64(reg)); err != nil || n != width {
		return 0
	}

	var val uint32
	for i := width - 1; i >= 0; i-- {
		val = val<<8 | uint32(buf[i])
	}

	return val
}

func (s *SysfsConfig) write(reg, width int, val uint32) {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(val >> (8 * i))
	}

	_, _ = unix.Pwrite(int(s.file.Fd()), buf, int64(reg))
}

func (s *SysfsConfig) Read8(reg int) uint8   { return uint8(s.read(reg, 1)) }
func (s *SysfsConfig) Read16(reg int) uint16 { return uint16(s.read(reg, 2)) }
func (s *SysfsConfig) Read32(reg int) uint32 { return s.read(reg, 4) }

func (s *SysfsConfig) Write8(reg int, val uint8)   { s.write(reg, 1, uint32(val)) }
func (s *SysfsConfig) Write16(reg int, val uint16) { s.write(reg, 2, uint32(val)) }
func (s *SysfsConfig) Write32(reg int, val uint32) { s.write(reg, 4, val) }
