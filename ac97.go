// Package ac97 provides a playback driver for the Intel ICH family of PCI
// AC97 controllers (ICH/ICH4-class, NForce and SIS7012), modeled after the
// Linux intel8x0 driver and the MpxPlay ICH routines.
package ac97

// Bus-master register block, offsets relative to the bus-master base port.
// These values correspond to the PCM-out channel of the Intel ICH register
// map; the status and position registers are swapped on SIS7012.
const (
	ICH_PO_BDBAR_REG = 0x10 // buffer descriptor list physical base address
	ICH_PO_CIV_REG   = 0x14 // current index value (RO)
	ICH_PO_LVI_REG   = 0x15 // last valid index
	ICH_PO_CR_REG    = 0x1b // transfer control

	ICH_GLOB_CNT_REG  = 0x2c // global control
	ICH_GLOB_STAT_REG = 0x30 // global status (RO)
	ICH_ACC_SEMA_REG  = 0x34 // codec access semaphore

	ICH_SIS_UNMUTE_REG = 0x4c // SIS7012 only, bit 0 unmutes the output
)

// Transfer control register bits.
const (
	ICH_PO_CR_START = 0x01 // run the PCM-out DMA engine
	ICH_PO_CR_RESET = 0x02 // reset the channel, self clearing
	ICH_PO_CR_LVBIE = 0x04 // last valid buffer interrupt enable
	ICH_PO_CR_FEIE  = 0x08 // FIFO error interrupt enable
	ICH_PO_CR_IOCE  = 0x10 // interrupt on completion enable
)

// Transfer status register bits.
const (
	ICH_PO_SR_DCH   = 0x01 // DMA controller halted (RO)
	ICH_PO_SR_LVBCI = 0x04 // last valid buffer completion (R/WC)
	ICH_PO_SR_BCIS  = 0x08 // buffer completion, IOC (R/WC)
	ICH_PO_SR_FIFO  = 0x10 // FIFO error (R/WC)
)

// Global control register bits.
const (
	ICH_GLOB_CNT_AC97COLD  = 0x00000002 // AC'97 cold reset
	ICH_GLOB_CNT_AC97WARM  = 0x00000004 // AC'97 warm reset, self clearing
	ICH_GLOB_CNT_ACLINKOFF = 0x00000008 // turn off the AC-link

	ICH_PCM_20BIT    = 0x00400000 // 20-bit samples (ICH4)
	ICH_PCM_246_MASK = 0x00300000 // 4/6 channel mask

	ICH_SIS_PCM_246_MASK = 0x000000c0 // 4/6 channel mask (SIS7012)
)

// Global status register bits.
const (
	ICH_GLOB_STAT_PIINT = 0x00000020 // capture interrupt
	ICH_GLOB_STAT_POINT = 0x00000040 // playback interrupt
	ICH_GLOB_STAT_MCINT = 0x00000080 // mic capture interrupt
	ICH_GLOB_STAT_PCR   = 0x00000100 // primary codec ready
	ICH_GLOB_STAT_RCS   = 0x00008000 // codec read completion status

	ICH_SAMPLE_CAP   = 0x00c00000 // ICH4 sample capability bits (RO)
	ICH_SAMPLE_16_20 = 0x00400000 // ICH4 supports 16- and 20-bit samples
)

// Codec access semaphore register bits.
const (
	ICH_CODEC_BUSY = 0x01 // a codec register access is in flight, self clearing
)

// Buffer descriptor list geometry. The hardware walks a fixed table of 32
// descriptors; only the first ICH_DMABUF_PERIODS slots are populated and the
// ring wraps through them via the last-valid-index register.
const (
	ICH_DMABUF_MAX_PERIODS = 32 // descriptor slots in the BDL
	ICH_DMABUF_PERIODS     = 4  // slots actually used for the ring
	ICH_BDL_ENTRY_SIZE     = 8  // two little-endian 32-bit words per slot
	ICH_DMABUF_ALIGN       = ICH_DMABUF_MAX_PERIODS * ICH_BDL_ENTRY_SIZE

	ICH_BD_IOC = 0x8000 // descriptor control half-word: interrupt on completion
)

// ICH_DEFAULT_RETRY is the iteration budget of every bounded busy-wait
// against the hardware. Combined with the 10 microsecond poll interval this
// gives a ceiling of roughly 10 ms per wait.
const ICH_DEFAULT_RETRY = 1000

// ICH_MAX_PERIOD_UNITS is the widest period length the 16-bit BDL length
// field can carry, in the unit of the active device family.
const ICH_MAX_PERIOD_UNITS = 0xFFFE

// AC97 codec (mixer) registers touched by the bring-up path.
// These values correspond to the AC97_* constants in the Linux ac97_codec.h.
const (
	AC97_MASTER_VOL_STEREO  = 0x02
	AC97_HEADPHONE_VOL      = 0x04
	AC97_PCMOUT_VOL         = 0x18
	AC97_EXTENDED_STATUS    = 0x2a
	AC97_PCM_FRONT_DAC_RATE = 0x2c
	AC97_SPDIF_CONTROL      = 0x3a
)

// Extended status register bits.
const (
	AC97_EA_VRA   = 0x0001 // variable rate audio enable
	AC97_EA_SPDIF = 0x0004 // SPDIF output enable
)

// SPDIF control register sample-rate field.
const (
	AC97_SC_SPSR_MASK = 0x3000
	AC97_SC_SPSR_44K  = 0x0000
	AC97_SC_SPSR_48K  = 0x2000
	AC97_SC_SPSR_32K  = 0x3000
)

// DeviceFamily identifies the register-layout variant of a controller.
type DeviceFamily int32

const (
	DEVICE_INTEL      DeviceFamily = 0 // standard ICH
	DEVICE_INTEL_ICH4 DeviceFamily = 1 // ICH4 and later, 20-bit capable
	DEVICE_NFORCE     DeviceFamily = 2 // NVidia NForce
	DEVICE_SIS        DeviceFamily = 3 // SIS7012
)

// DeviceFamilyNames provides human-readable names for controller families.
var DeviceFamilyNames = map[DeviceFamily]string{
	DEVICE_INTEL:      "ICH",
	DEVICE_INTEL_ICH4: "ICH4",
	DEVICE_NFORCE:     "NForce",
	DEVICE_SIS:        "SIS7012",
}

// Profile carries the family-dependent register offsets, masks and units
// resolved once at detection. All fields are read-only afterwards; no other
// component branches on the family identity except for the SIS7012 unmute
// and the byte-vs-sample position unit, which the profile encodes directly.
type Profile struct {
	Name   string
	Vendor uint16
	Device uint16
	Family DeviceFamily

	StatusReg   uint32 // transfer status register offset (0x18 on SIS7012, 0x16 otherwise)
	PositionReg uint32 // position-in-current-buffer register offset (the complementary one)
	ChannelMask uint32 // 4/6 channel mask within the global control register

	PeriodInBytes bool // BDL length field counts bytes (SIS7012) instead of samples
	Sample20Bit   bool // family may negotiate 20-bit samples (ICH4)
	TertiaryCodec bool // register map exposes a tertiary codec (unused)
}

// deviceEntry is one row of the static detection table.
type deviceEntry struct {
	name   string
	vendor uint16
	device uint16
	family DeviceFamily
}

// ichDevices lists the supported controllers, matched in order.
var ichDevices = []deviceEntry{
	{"82801AA", 0x8086, 0x2415, DEVICE_INTEL},
	{"82901AB", 0x8086, 0x2425, DEVICE_INTEL},
	{"82801BA", 0x8086, 0x2445, DEVICE_INTEL},
	{"ICH3", 0x8086, 0x2485, DEVICE_INTEL},
	{"ICH4", 0x8086, 0x24c5, DEVICE_INTEL_ICH4},
	{"ICH5", 0x8086, 0x24d5, DEVICE_INTEL_ICH4},
	{"ESB", 0x8086, 0x25a6, DEVICE_INTEL_ICH4},
	{"ICH6", 0x8086, 0x266e, DEVICE_INTEL_ICH4},
	{"ICH7", 0x8086, 0x27de, DEVICE_INTEL_ICH4},
	{"ESB2", 0x8086, 0x2698, DEVICE_INTEL_ICH4},
	{"440MX", 0x8086, 0x7195, DEVICE_INTEL},
	{"SI7012", 0x1039, 0x7012, DEVICE_SIS},
	{"NFORCE", 0x10de, 0x01b1, DEVICE_NFORCE},
	{"MCP04", 0x10de, 0x003a, DEVICE_NFORCE},
	{"NFORCE2", 0x10de, 0x006a, DEVICE_NFORCE},
	{"CK804", 0x10de, 0x0059, DEVICE_NFORCE},
	{"CK8", 0x10de, 0x008a, DEVICE_NFORCE},
	{"NFORCE3", 0x10de, 0x00da, DEVICE_NFORCE},
	{"CK8S", 0x10de, 0x00ea, DEVICE_NFORCE},
	{"AMD8111", 0x1022, 0x746d, DEVICE_INTEL},
	{"AMD768", 0x1022, 0x7445, DEVICE_INTEL},
}

// ResolveProfile looks up a (vendor, device) pair in the static detection
// table and returns the fully populated register profile for that family.
// Unknown pairs return ErrNoDevice.
func ResolveProfile(vendor, device uint16) (Profile, error) {
	for _, e := range ichDevices {
		if e.vendor != vendor || e.device != device {
			continue
		}

		p := Profile{
			Name:   e.name,
			Vendor: e.vendor,
			Device: e.device,
			Family: e.family,
		}

		if e.family == DEVICE_SIS {
			// SIS7012 swaps the status and position registers, counts the
			// BDL length field in bytes and moves the channel mask.
			p.StatusReg = 0x18
			p.PositionReg = 0x16
			p.ChannelMask = ICH_SIS_PCM_246_MASK
			p.PeriodInBytes = true
			p.TertiaryCodec = true
		} else {
			p.StatusReg = 0x16
			p.PositionReg = 0x18
			p.ChannelMask = ICH_PCM_246_MASK
		}

		if e.family == DEVICE_INTEL_ICH4 {
			p.Sample20Bit = true
		}

		return p, nil
	}

	return Profile{}, ErrNoDevice
}

// Profiles returns the register profiles of every supported controller.
func Profiles() []Profile {
	out := make([]Profile, 0, len(ichDevices))
	for _, e := range ichDevices {
		p, err := ResolveProfile(e.vendor, e.device)
		if err != nil {
			continue
		}
		out = append(out, p)
	}

	return out
}
