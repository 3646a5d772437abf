package ac97

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DMAMemory is one physically contiguous, DMA-capable allocation. The
// descriptor table lives at its start and the PCM ring immediately after.
// The driver never does physical pointer arithmetic itself; PhysAddr
// translates an offset within the allocation into the bus address the
// hardware will fetch from.
type DMAMemory interface {
	// Bytes returns the linear view of the allocation.
	Bytes() []byte

	// PhysAddr returns the 32-bit physical address of the byte at offset.
	PhysAddr(offset int) uint32

	// Release frees the allocation. Called exactly once, at card close.
	Release() error
}

// StaticDMA adapts a caller-owned buffer with a known physical base into a
// DMAMemory. Hosts that obtain DMA memory from their platform (hugepages,
// udmabuf, a DOS extender) wrap it here; tests use it with a fake base.
type StaticDMA struct {
	buf  []byte
	phys uint32
}

// NewStaticDMA wraps buf, whose first byte lives at physical address
// physBase.
func NewStaticDMA(buf []byte, physBase uint32) *StaticDMA {
	return &StaticDMA{buf: buf, phys: physBase}
}

func (s *StaticDMA) Bytes() []byte { return s.buf }

func (s *StaticDMA) PhysAddr(offset int) uint32 { return s.phys + uint32(offset) }

func (s *StaticDMA) Release() error {
	s.buf = nil

	return nil
}

// DevMem maps a reserved physical memory region through /dev/mem for use as
// the DMA allocation. The region must be kept away from the kernel's own
// allocator, typically with a memmap= boot parameter.
type DevMem struct {
	f    *os.File
	buf  []byte
	phys uint32
}

// MapDevMem maps size bytes of physical memory starting at phys.
func MapDevMem(phys uint32, size int) (*DevMem, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/mem: %w", err)
	}

	buf, err := unix.Mmap(int(f.Fd()), int64(phys), size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()

		return nil, fmt.Errorf("mmap /dev/mem at %#x: %w", phys, err)
	}

	return &DevMem{f: f, buf: buf, phys: phys}, nil
}

func (d *DevMem) Bytes() []byte { return d.buf }

func (d *DevMem) PhysAddr(offset int) uint32 { return d.phys + uint32(offset) }

func (d *DevMem) Release() error {
	err := unix.Munmap(d.buf)
	d.buf = nil

	if cerr := d.f.Close(); err == nil {
		err = cerr
	}

	return err
}

// allocateRing carves the DMA allocation into the fixed 32-slot descriptor
// table followed by the PCM ring. The ring size is the requested size capped
// by the allocation, rounded down to the descriptor-table alignment.
func (c *Card) allocateRing(requested int) error {
	lin := c.mem.Bytes()

	avail := len(lin) - ICH_DMABUF_ALIGN
	if avail < ICH_DMABUF_ALIGN {
		return fmt.Errorf("DMA allocation too small: %d bytes", len(lin))
	}

	size := requested
	if size <= 0 || size > avail {
		size = avail
	}
	size &^= ICH_DMABUF_ALIGN - 1

	c.buf = lin[ICH_DMABUF_ALIGN : ICH_DMABUF_ALIGN+size]
	c.bufSize = uint32(size)

	c.log.Debug("ring allocated", "bdl", ICH_DMABUF_ALIGN, "pcm", size)

	return nil
}

// layoutRing splits the PCM ring into ICH_DMABUF_PERIODS equal contiguous
// periods and publishes the descriptor table to the hardware. The length
// field of each used slot is expressed in the profile's unit: bytes on
// SIS7012, samples elsewhere. The 28 unused slots are zeroed.
func (c *Card) layoutRing(periodSizeBytes uint32) {
	c.periodSize = periodSizeBytes

	units := periodSizeBytes
	if !c.profile.PeriodInBytes {
		units = periodSizeBytes / (c.bits >> 3)
	}

	if units > ICH_MAX_PERIOD_UNITS {
		// The BDL length field is 16 bits wide. Oversized periods are known
		// to misbehave on SIS7012 but are deliberately not rejected.
		c.log.Warn("period size exceeds BDL length field", "units", units)
	}

	table := c.mem.Bytes()[:ICH_DMABUF_ALIGN]

	for i := 0; i < ICH_DMABUF_PERIODS; i++ {
		addr := c.mem.PhysAddr(ICH_DMABUF_ALIGN + i*int(periodSizeBytes))

		control := units
		if c.svc.descriptorIOC() {
			control |= ICH_BD_IOC << 16
		}

		binary.LittleEndian.PutUint32(table[i*ICH_BDL_ENTRY_SIZE:], addr)
		binary.LittleEndian.PutUint32(table[i*ICH_BDL_ENTRY_SIZE+4:], control)
	}

	for i := ICH_DMABUF_PERIODS; i < ICH_DMABUF_MAX_PERIODS; i++ {
		binary.LittleEndian.PutUint32(table[i*ICH_BDL_ENTRY_SIZE:], 0)
		binary.LittleEndian.PutUint32(table[i*ICH_BDL_ENTRY_SIZE+4:], 0)
	}

	c.write32(ICH_PO_BDBAR_REG, c.mem.PhysAddr(0))
	c.write8(ICH_PO_LVI_REG, ICH_DMABUF_PERIODS-1)

	// The current index register is documented read-only; the write is a
	// harmless no-op kept for parity with known-good bring-up sequences.
	c.write8(ICH_PO_CIV_REG, 0)
}

// BDLEntry is the decoded form of one descriptor slot, used by tests and
// diagnostics to inspect the published ring.
type BDLEntry struct {
	Addr   uint32 // physical address of the period's first byte
	Length uint32 // period length in the profile's unit
	IOC    bool   // interrupt on completion requested
}

// BDL decodes the descriptor table as currently published in DMA memory.
func (c *Card) BDL() [ICH_DMABUF_MAX_PERIODS]BDLEntry {
	var out [ICH_DMABUF_MAX_PERIODS]BDLEntry

	table := c.mem.Bytes()[:ICH_DMABUF_ALIGN]
	for i := range out {
		control := binary.LittleEndian.Uint32(table[i*ICH_BDL_ENTRY_SIZE+4:])
		out[i] = BDLEntry{
			Addr:   binary.LittleEndian.Uint32(table[i*ICH_BDL_ENTRY_SIZE:]),
			Length: control & 0xFFFF,
			IOC:    control&(ICH_BD_IOC<<16) != 0,
		}
	}

	return out
}
