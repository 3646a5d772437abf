package ac97

import "time"

// positionRetries bounds the attempts Position makes to obtain a coherent
// snapshot of the hardware index and the in-period counter.
const positionRetries = 3

// SetRate configures the stream for a requested sample rate and returns the
// effective rate. On the base ICH family the sample clock is measured once
// before the first configuration. Rates are clamped to the codec's 8-48 kHz
// span when variable rate audio is on, and forced to 48 kHz otherwise.
func (c *Card) SetRate(freq uint32) uint32 {
	if c.profile.Family == DEVICE_INTEL && !c.clockDetected {
		c.measureClock()
	}

	c.channels = 2

	if !c.vra {
		freq = 48000
	} else if freq < 8000 {
		freq = 8000
	} else if freq > 48000 {
		freq = 48000
	}

	c.periodSize = c.bufSize / ICH_DMABUF_PERIODS

	if c.profile.Family == DEVICE_SIS && c.periodSize > ICH_MAX_PERIOD_UNITS {
		c.log.Warn("period size too big for SIS7012", "bytes", c.periodSize)
	}

	return c.Prepare(freq, c.reqBits)
}

// Prepare moves the channel into the prepared state for the given rate and
// requested sample width: the DMA engine is awaited and reset, channels and
// width are programmed, the SPDIF and front DAC rates are written, and the
// descriptor ring is published. Returns the effective sample rate, which
// differs from the request only when clock compensation rewrites it.
func (c *Card) Prepare(freq, bits uint32) uint32 {
	if !c.waitFor(ICH_DEFAULT_RETRY, func() bool {
		return c.read16(c.profile.StatusReg)&ICH_PO_SR_DCH != 0
	}) {
		c.log.Debug("DMA engine still running before prepare")
	}

	c.write8(ICH_PO_CR_REG, c.read8(ICH_PO_CR_REG)|ICH_PO_CR_RESET)

	c.bits = c.setupChannels(bits)

	var spdifRate uint16
	switch freq {
	case 32000:
		spdifRate = AC97_SC_SPSR_32K
	case 44100:
		spdifRate = AC97_SC_SPSR_44K
	default:
		spdifRate = AC97_SC_SPSR_48K
	}
	ctl := c.codecRead(AC97_SPDIF_CONTROL)
	ctl = ctl&^AC97_SC_SPSR_MASK | spdifRate
	c.codecWrite(AC97_SPDIF_CONTROL, ctl)
	c.sleep(100 * time.Microsecond)

	// With a measured clock deviation the DAC rate is corrected. On VRA
	// codecs the correction is invisible to the caller; without VRA the
	// codec cannot take the corrected rate, so the effective rate itself
	// is adjusted and echoed back.
	effective := freq
	switch {
	case c.clockCorrector != 0 && c.vra:
		c.codecWrite(AC97_PCM_FRONT_DAC_RATE, uint16(float64(freq)*c.clockCorrector))
	case c.clockCorrector != 0:
		effective = uint32(float64(freq) / c.clockCorrector)
		c.codecWrite(AC97_PCM_FRONT_DAC_RATE, uint16(effective))
	default:
		c.codecWrite(AC97_PCM_FRONT_DAC_RATE, uint16(freq))
	}
	c.rate = effective

	// Codec settling time after a rate change.
	c.sleep(16 * time.Millisecond)

	c.layoutRing(c.periodSize)

	c.write16(c.profile.StatusReg, ICH_PO_SR_LVBCI|ICH_PO_SR_BCIS|ICH_PO_SR_FIFO)

	return effective
}

// Start kicks off the DMA engine. In interrupt-driven mode the completion
// and last-valid-buffer interrupt enables are armed together with the start
// bit.
func (c *Card) Start() {
	c.codecReady(ICH_GLOB_STAT_PCR)

	c.write8(ICH_PO_CR_REG, c.read8(ICH_PO_CR_REG)|c.svc.startBits())
	c.running = true
}

// Stop clears the start bit. The DMA engine halts after finishing its
// current period, not instantly. Idempotent.
func (c *Card) Stop() {
	if c.baseBM == 0 || c.port == nil {
		return
	}

	c.write8(ICH_PO_CR_REG, c.read8(ICH_PO_CR_REG)&^uint8(ICH_PO_CR_START))
	c.running = false
}

// Write copies interleaved sample data into the PCM ring at the software put
// pointer, wrapping at the ring boundary, and returns the number of bytes
// consumed. The host pipeline paces itself against Position; Write never
// blocks.
func (c *Card) Write(data []byte) int {
	if c.bufSize == 0 {
		return 0
	}

	total := 0
	for len(data) > 0 {
		n := copy(c.buf[c.writePos:], data)
		c.writePos = (c.writePos + uint32(n)) % c.bufSize
		data = data[n:]
		total += n
	}

	return total
}

// clearBuffer silences the ring and resets position tracking. Used by
// underrun recovery and by the clock measurement pass.
func (c *Card) clearBuffer() {
	for i := range c.buf {
		c.buf[i] = 0
	}

	c.writePos = 0
	c.lastGood = 0
}

// Position returns the playback position as a linear byte offset into the
// ring. The hardware index and the in-period counter are read in separate
// cycles and can race each other; up to positionRetries snapshots are taken
// and an incoherent one is discarded. When every attempt fails the last
// known-good offset is returned, because transient read races must not
// surface as playback errors.
func (c *Card) Position() uint32 {
	for retry := positionRetries; retry > 0; retry-- {
		index := uint32(c.read8(ICH_PO_CIV_REG))
		if index >= ICH_DMABUF_PERIODS {
			// The index register came back corrupted or uninitialized.
			// Recover as an underrun: silence the ring and start over.
			c.clearBuffer()
			c.write8(ICH_PO_CIV_REG, 0) // documented read-only, expected no-op
			c.underrun = true
			c.stats.Underruns++
			c.stats.PositionRetries++

			continue
		}

		remaining := uint32(c.read16(c.profile.PositionReg))
		if !c.profile.PeriodInBytes {
			remaining *= c.bits >> 3
		}

		if remaining == 0 || remaining > c.periodSize {
			if uint32(c.read8(ICH_PO_LVI_REG)) == index {
				// Ring fully drained.
				c.clearBuffer()
				c.underrun = true
				c.stats.Underruns++
			}
			c.stats.PositionRetries++

			continue
		}

		if uint32(c.read8(ICH_PO_CIV_REG)) != index {
			// Index moved between the two reads.
			c.stats.PositionRetries++

			continue
		}

		pos := index*c.periodSize + (c.periodSize - remaining)
		if pos < c.bufSize {
			c.lastGood = pos

			break
		}

		c.stats.PositionRetries++
	}

	return c.lastGood
}
