package ac97

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Stats counts the steady-state anomalies absorbed by one card instance.
// The counters are owned by the card so multiple controllers and tests do
// not interfere with each other.
type Stats struct {
	Underruns         int // ring drained before new data arrived
	Completions       int // period completion interrupts serviced
	FIFOErrors        int // FIFO error interrupts observed
	SemaphoreTimeouts int // codec semaphore never cleared within budget
	PositionRetries   int // position reads discarded as transient races
}

// Options carries the collaborators and knobs for Detect. The zero value of
// every field selects a production default.
type Options struct {
	// Port performs the register accesses. Defaults to /dev/port.
	Port PortIO

	// Config is the configuration space of an already-resolved controller.
	// When nil, Detect scans the PCI bus for a supported device.
	Config ConfigSpace

	// Profile must name the controller family when Config is set; it is
	// ignored when Detect performs its own scan.
	Profile Profile

	// DMA supplies the physically contiguous allocation holding the buffer
	// descriptor list and the PCM ring. Required.
	DMA DMAMemory

	// BufferSize requests a PCM ring size in bytes. Rounded down to the
	// descriptor-table alignment; capped by the DMA allocation.
	BufferSize int

	// EnableInterrupts arms the IOC/last-valid-buffer interrupt enables so
	// a wired interrupt line can drive HandleInterrupt. Polling-only hosts
	// leave this false.
	EnableInterrupts bool

	// Bits is the requested sample width. 16 by default; values above 16
	// only take effect on ICH4 parts with 20-bit capability.
	Bits uint32

	// VRA enables variable rate audio on codecs that support it. Without it
	// the DAC runs at a fixed 48 kHz.
	VRA bool

	// Logger receives bring-up diagnostics and timeout notices. Discards by
	// default.
	Logger *slog.Logger

	// Sleep and Now are replaceable for tests.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// Card is one detected AC97 controller instance. It is exclusively owned by
// the host audio pipeline, which drives it single threaded; only
// HandleInterrupt may run concurrently, and it touches a disjoint register
// set from the synchronous path.
type Card struct {
	port PortIO
	pci  ConfigSpace
	mem  DMAMemory
	log  *slog.Logger

	profile   Profile
	baseBM    uint32 // bus-master register block base port
	baseCodec uint32 // codec/mixer register block base port
	irq       uint8

	buf        []byte // PCM ring, a view into mem after the BDL region
	bufSize    uint32
	periodSize uint32 // bytes per BDL period
	writePos   uint32 // software put pointer into the ring

	rate     uint32
	channels uint32
	bits     uint32 // effective sample width on the wire
	reqBits  uint32 // sample width requested by the host

	vra            bool
	svc            servicer
	clockDetected  bool
	clockCorrector float64 // 0 means no correction

	running  bool
	lastGood uint32 // last accepted linear playback position
	underrun bool

	stats Stats

	sleep func(time.Duration)
	now   func() time.Time
}

// Detect resolves a supported controller, brings the chip and the codec out
// of reset and returns a ready-to-configure card. On any failure every
// acquired resource is released before returning.
func Detect(opts *Options) (*Card, error) {
	if opts == nil {
		opts = &Options{}
	}

	if opts.DMA == nil {
		return nil, fmt.Errorf("a DMA memory allocation is required")
	}

	card := &Card{
		mem:      opts.DMA,
		vra:      opts.VRA,
		channels: 2,
		bits:     16,
		reqBits:  opts.Bits,
		sleep:    opts.Sleep,
		now:      opts.Now,
		log:      opts.Logger,
	}

	if opts.EnableInterrupts {
		card.svc = irqServicer{}
	} else {
		card.svc = pollingServicer{}
	}

	if card.reqBits == 0 {
		card.reqBits = 16
	}

	if card.sleep == nil {
		card.sleep = time.Sleep
	}

	if card.now == nil {
		card.now = time.Now
	}

	if card.log == nil {
		card.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Port == nil {
		port, err := OpenDevPort()
		if err != nil {
			card.Close()

			return nil, err
		}
		card.port = port
	} else {
		card.port = opts.Port
	}

	if opts.Config == nil {
		pci, profile, err := FindPCIDevice()
		if err != nil {
			card.Close()

			return nil, err
		}
		card.pci = pci
		card.profile = profile
	} else {
		card.pci = opts.Config
		card.profile = opts.Profile
	}

	if err := card.attach(opts); err != nil {
		card.Close()

		return nil, err
	}

	return card, nil
}

// attach walks the configuration space, claims the port ranges and runs the
// chip and codec bring-up sequences.
func (c *Card) attach(opts *Options) error {
	if c.profile.Family == DEVICE_INTEL_ICH4 {
		// Legacy I/O space decode must be on before the command register's
		// I/O bit takes effect on ICH4.
		c.pci.Write8(PCIR_ICH4_CFG, 1)
	}

	cmd := c.pci.Read16(PCIR_COMMAND)
	c.pci.Write16(PCIR_COMMAND, cmd|pciCommandIO|pciCommandMaster)

	c.baseBM = c.readBAR(PCIR_NABMBAR, 0xF000&^0x3F)
	if c.baseBM == 0 {
		return fmt.Errorf("controller %s: %w", c.profile.Name, ErrNoBusMaster)
	}

	c.baseCodec = c.readBAR(PCIR_NAMBAR, (0xF000-256)&^0xFF)
	if c.baseCodec == 0 {
		return fmt.Errorf("codec registers of %s: %w", c.profile.Name, ErrNoBusMaster)
	}

	c.irq = c.pci.Read8(PCIR_INTR_LN)
	if c.irq == 0 || c.irq == 0xFF {
		// Some firmwares never route the line; pick a conventional one.
		c.pci.Write8(PCIR_INTR_LN, 11)
		c.irq = c.pci.Read8(PCIR_INTR_LN)
	}

	if err := c.allocateRing(opts.BufferSize); err != nil {
		return err
	}

	c.chipInit()
	c.codecInit()

	c.log.Info("controller attached",
		"chip", c.profile.Name,
		"family", DeviceFamilyNames[c.profile.Family],
		"busmaster", fmt.Sprintf("%#04x", c.baseBM),
		"codec", fmt.Sprintf("%#04x", c.baseCodec),
		"irq", c.irq)

	return nil
}

// readBAR reads an I/O base address register, assigning fallback when the
// firmware left it unset, and returns the decoded port base.
func (c *Card) readBAR(reg int, fallback uint32) uint32 {
	base := c.pci.Read32(reg) & 0xfff0
	if base == 0 {
		c.log.Warn("base address register unset, assigning", "reg", reg, "base", fallback)
		c.pci.Write32(reg, fallback)
		base = c.pci.Read32(reg) & 0xfff0
	}

	return base
}

// IRQ returns the interrupt line routed to the controller.
func (c *Card) IRQ() uint8 {
	return c.irq
}

// Profile returns the active register profile.
func (c *Card) Profile() Profile {
	return c.profile
}

// Rate returns the effective sample rate in frames per second.
func (c *Card) Rate() uint32 {
	return c.rate
}

// Bits returns the effective sample width negotiated with the controller.
func (c *Card) Bits() uint32 {
	return c.bits
}

// Channels returns the channel count; always 2 on this hardware family.
func (c *Card) Channels() uint32 {
	return c.channels
}

// BufferSize returns the PCM ring size in bytes.
func (c *Card) BufferSize() uint32 {
	return c.bufSize
}

// PeriodSize returns the bytes per DMA period.
func (c *Card) PeriodSize() uint32 {
	return c.periodSize
}

// Stats returns a copy of the card's diagnostic counters.
func (c *Card) Stats() Stats {
	return c.stats
}

// Underrun reports and clears the underrun flag raised since the last call.
func (c *Card) Underrun() bool {
	flagged := c.underrun
	c.underrun = false

	return flagged
}

// ClockCorrector returns the measured sample-clock correction factor, or 0
// when the clock is accurate or was never measured.
func (c *Card) ClockCorrector() float64 {
	return c.clockCorrector
}

// Describe returns a human-readable one-line summary of the controller.
func (c *Card) Describe() string {
	bits := "16"
	if c.profile.Sample20Bit {
		bits = "16,20"
	}

	return fmt.Sprintf("ICH : Intel %s found on port:%04X irq:%d (type:%s, bits:%s)",
		c.profile.Name, c.baseBM, c.irq, DeviceFamilyNames[c.profile.Family], bits)
}

// Close stops the channel, releases the DMA allocation and the collaborator
// handles. Safe to call more than once and on a partially constructed card.
func (c *Card) Close() error {
	if c == nil {
		return nil
	}

	c.chipClose()
	c.baseBM = 0
	c.baseCodec = 0

	var err error
	if c.mem != nil {
		err = c.mem.Release()
		c.mem = nil
		c.buf = nil
	}

	if c.pci != nil {
		if cerr := c.pci.Close(); err == nil {
			err = cerr
		}
		c.pci = nil
	}

	if closer, ok := c.port.(interface{ Close() error }); ok && closer != nil {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	c.port = nil

	return err
}

// Register access helpers for the bus-master block.

func (c *Card) read8(reg uint32) uint8   { return c.port.In8(c.baseBM + reg) }
func (c *Card) read16(reg uint32) uint16 { return c.port.In16(c.baseBM + reg) }
func (c *Card) read32(reg uint32) uint32 { return c.port.In32(c.baseBM + reg) }

func (c *Card) write8(reg uint32, val uint8)   { c.port.Out8(c.baseBM+reg, val) }
func (c *Card) write16(reg uint32, val uint16) { c.port.Out16(c.baseBM+reg, val) }
func (c *Card) write32(reg uint32, val uint32) { c.port.Out32(c.baseBM+reg, val) }
