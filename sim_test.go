package ac97_test

import (
	"time"

	"github.com/gen2brain/ac97"
)

// The tests run the driver against a simulated controller that models the
// register behavior of the ICH bus-master block and an attached AC97 codec:
// write-1-to-clear status bits, the self-clearing warm reset and channel
// reset, the codec access semaphore and the read-only current index
// register. Scripted index/position sequences stand in for a running DMA
// engine.

const (
	simBMBase    = 0xE000
	simCodecBase = 0xD000
	simPhysBase  = 0x100000

	simDMASize = ac97.ICH_DMABUF_ALIGN + 16384
)

type simPort struct {
	statusOff uint32
	picbOff   uint32

	globStat uint32
	globCnt  uint32
	sr       uint16
	cr       uint8
	civ      uint8
	lvi      uint8
	bdbar    uint32
	unmute   uint16

	codec    map[uint32]uint16
	noVRA    bool // codec rejects variable rate audio
	semaBusy int  // reads that still report a busy semaphore

	civSeq  []uint8
	picbSeq []uint16

	civWrites  int // attempted writes to the read-only index register
	dummyReads int // semaphore force-clear reads of the codec base port
	lastAck    uint16
	resets     int
}

func newSimPort(profile ac97.Profile) *simPort {
	return &simPort{
		statusOff: profile.StatusReg,
		picbOff:   profile.PositionReg,
		globStat:  ac97.ICH_GLOB_STAT_PCR,
		sr:        ac97.ICH_PO_SR_DCH,
		civ:       ac97.ICH_DMABUF_PERIODS - 1,
		codec:     make(map[uint32]uint16),
	}
}

func (s *simPort) nextCIV() uint8 {
	if len(s.civSeq) == 0 {
		return s.civ
	}

	v := s.civSeq[0]
	if len(s.civSeq) > 1 {
		s.civSeq = s.civSeq[1:]
	}

	return v
}

func (s *simPort) nextPICB() uint16 {
	if len(s.picbSeq) == 0 {
		return 0
	}

	v := s.picbSeq[0]
	if len(s.picbSeq) > 1 {
		s.picbSeq = s.picbSeq[1:]
	}

	return v
}

func (s *simPort) In8(port uint32) uint8 {
	switch port - simBMBase {
	case ac97.ICH_PO_CIV_REG:
		return s.nextCIV()
	case ac97.ICH_PO_LVI_REG:
		return s.lvi
	case ac97.ICH_PO_CR_REG:
		return s.cr
	case ac97.ICH_ACC_SEMA_REG:
		if s.semaBusy > 0 {
			s.semaBusy--

			return ac97.ICH_CODEC_BUSY
		}

		return 0
	}

	return 0
}

func (s *simPort) In16(port uint32) uint16 {
	if port >= simCodecBase && port < simCodecBase+0x100 {
		reg := port - simCodecBase
		if reg == 0 {
			s.dummyReads++
		}

		val := s.codec[reg]
		if s.noVRA && reg == ac97.AC97_EXTENDED_STATUS {
			val &^= ac97.AC97_EA_VRA
		}

		return val
	}

	switch port - simBMBase {
	case s.statusOff:
		return s.sr
	case s.picbOff:
		return s.nextPICB()
	case ac97.ICH_SIS_UNMUTE_REG:
		return s.unmute
	}

	return 0
}

func (s *simPort) In32(port uint32) uint32 {
	switch port - simBMBase {
	case ac97.ICH_GLOB_CNT_REG:
		return s.globCnt
	case ac97.ICH_GLOB_STAT_REG:
		return s.globStat
	case ac97.ICH_PO_BDBAR_REG:
		return s.bdbar
	}

	return 0
}

func (s *simPort) Out8(port uint32, val uint8) {
	switch port - simBMBase {
	case ac97.ICH_PO_CIV_REG:
		s.civWrites++ // read-only register, the write is dropped
	case ac97.ICH_PO_LVI_REG:
		s.lvi = val
	case ac97.ICH_PO_CR_REG:
		if val&ac97.ICH_PO_CR_RESET != 0 {
			s.resets++
			val &^= ac97.ICH_PO_CR_RESET
			s.sr |= ac97.ICH_PO_SR_DCH
		}

		if val&ac97.ICH_PO_CR_START != 0 {
			s.sr &^= ac97.ICH_PO_SR_DCH
		} else {
			s.sr |= ac97.ICH_PO_SR_DCH
		}

		s.cr = val
	}
}

func (s *simPort) Out16(port uint32, val uint16) {
	if port >= simCodecBase && port < simCodecBase+0x100 {
		s.codec[port-simCodecBase] = val

		return
	}

	switch port - simBMBase {
	case s.statusOff:
		s.lastAck = val
		s.sr &^= val & (ac97.ICH_PO_SR_LVBCI | ac97.ICH_PO_SR_BCIS | ac97.ICH_PO_SR_FIFO)
	case ac97.ICH_SIS_UNMUTE_REG:
		s.unmute = val
	}
}

func (s *simPort) Out32(port uint32, val uint32) {
	switch port - simBMBase {
	case ac97.ICH_GLOB_CNT_REG:
		// The warm reset bit self clears once the link is back up.
		s.globCnt = val &^ uint32(ac97.ICH_GLOB_CNT_AC97WARM)
	case ac97.ICH_GLOB_STAT_REG:
		s.globStat &^= val & (ac97.ICH_GLOB_STAT_RCS | ac97.ICH_GLOB_STAT_MCINT |
			ac97.ICH_GLOB_STAT_POINT | ac97.ICH_GLOB_STAT_PIINT)
	case ac97.ICH_PO_BDBAR_REG:
		s.bdbar = val
	}
}

// simConfig models the PCI configuration space of one controller.
type simConfig struct {
	regs   [256]byte
	roBARs bool // firmware-less board whose BARs cannot be assigned
	closed int
}

func newSimConfig() *simConfig {
	s := &simConfig{}
	s.Write32(ac97.PCIR_NAMBAR, simCodecBase|1)
	s.Write32(ac97.PCIR_NABMBAR, simBMBase|1)
	s.Write8(ac97.PCIR_INTR_LN, 5)

	return s
}

func (s *simConfig) Read8(reg int) uint8 { return s.regs[reg] }

func (s *simConfig) Read16(reg int) uint16 {
	return uint16(s.regs[reg]) | uint16(s.regs[reg+1])<<8
}

func (s *simConfig) Read32(reg int) uint32 {
	return uint32(s.Read16(reg)) | uint32(s.Read16(reg+2))<<16
}

func (s *simConfig) Write8(reg int, val uint8) { s.regs[reg] = val }

func (s *simConfig) Write16(reg int, val uint16) {
	s.regs[reg] = byte(val)
	s.regs[reg+1] = byte(val >> 8)
}

func (s *simConfig) Write32(reg int, val uint32) {
	if s.roBARs && (reg == ac97.PCIR_NAMBAR || reg == ac97.PCIR_NABMBAR) {
		return
	}

	s.Write16(reg, uint16(val))
	s.Write16(reg+2, uint16(val>>16))
}

func (s *simConfig) Close() error {
	s.closed++

	return nil
}

// simDMA is a DMA allocation with a fake physical base and a release
// counter.
type simDMA struct {
	buf      []byte
	releases int
}

func newSimDMA(size int) *simDMA {
	return &simDMA{buf: make([]byte, size)}
}

func (s *simDMA) Bytes() []byte { return s.buf }

func (s *simDMA) PhysAddr(offset int) uint32 { return simPhysBase + uint32(offset) }

func (s *simDMA) Release() error {
	s.releases++

	return nil
}

// simEnv bundles one simulated controller with its collaborators.
type simEnv struct {
	port *simPort
	cfg  *simConfig
	dma  *simDMA
	card *ac97.Card
}

// newSimCard detects a card of the given family against a fresh simulated
// controller. Extra options are merged before detection.
func newSimCard(vendor, device uint16, opts *ac97.Options) (*simEnv, error) {
	profile, err := ac97.ResolveProfile(vendor, device)
	if err != nil {
		return nil, err
	}

	env := &simEnv{
		port: newSimPort(profile),
		cfg:  newSimConfig(),
		dma:  newSimDMA(simDMASize),
	}

	if opts == nil {
		opts = &ac97.Options{}
	}

	opts.Port = env.port
	opts.Config = env.cfg
	opts.Profile = profile
	if opts.DMA == nil {
		opts.DMA = env.dma
	}
	if opts.Sleep == nil {
		opts.Sleep = func(time.Duration) {}
	}

	env.card, err = ac97.Detect(opts)
	if err != nil {
		return nil, err
	}

	return env, nil
}

// ring returns the PCM ring region of the simulated DMA allocation.
func (e *simEnv) ring() []byte {
	return e.dma.buf[ac97.ICH_DMABUF_ALIGN:]
}
