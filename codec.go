package ac97

// The AC97 codec sits behind a narrow 16-bit register window shared with the
// controller's own codec accesses. Every transaction must wait for the
// primary codec to be ready and then win the hardware semaphore; the
// semaphore is self clearing, so a stuck bit is recovered by a dummy read
// rather than surfaced as an error.

// codecReady polls the global status register until mask is set. A zero mask
// selects the primary-codec-ready bit. Returns false when the budget runs
// out; callers log and proceed.
func (c *Card) codecReady(mask uint32) bool {
	if mask == 0 {
		mask = ICH_GLOB_STAT_PCR
	}

	return c.waitFor(ICH_DEFAULT_RETRY, func() bool {
		return c.read32(ICH_GLOB_STAT_REG)&mask != 0
	})
}

// codecSemaphore waits for codec readiness and then for the access semaphore
// to clear. Readiness is re-validated on every transaction because the
// semaphore can be reasserted between calls. On timeout a dummy read of the
// codec port force-clears a stuck semaphore and the access proceeds
// best-effort.
func (c *Card) codecSemaphore(mask uint32) {
	c.codecReady(mask)

	ok := c.waitFor(ICH_DEFAULT_RETRY, func() bool {
		return c.read8(ICH_ACC_SEMA_REG)&ICH_CODEC_BUSY == 0
	})

	if !ok {
		c.stats.SemaphoreTimeouts++
		c.log.Debug("codec semaphore timeout, forcing clear")

		// Might be incompatible with ALI/ICH0.
		c.port.In16(c.baseCodec)
	}
}

// codecWrite writes one 16-bit codec register.
func (c *Card) codecWrite(reg uint32, val uint16) {
	c.codecSemaphore(ICH_GLOB_STAT_PCR)
	c.port.Out16(c.baseCodec+reg, val)
}

// codecRead reads one 16-bit codec register, re-sampling the port until the
// controller drops the read-completion status bit. The last sampled value is
// returned even on timeout.
func (c *Card) codecRead(reg uint32) uint16 {
	c.codecSemaphore(ICH_GLOB_STAT_PCR)

	var val uint16
	c.waitFor(ICH_DEFAULT_RETRY, func() bool {
		val = c.port.In16(c.baseCodec + reg)

		return c.read32(ICH_GLOB_STAT_REG)&ICH_GLOB_STAT_RCS == 0
	})

	return val
}

// codecInit programs the initial mixer state: master, PCM-out and headphone
// volumes unmuted at a modest attenuation, SPDIF output enabled, and
// variable rate audio negotiated when requested.
func (c *Card) codecInit() {
	c.codecWrite(AC97_MASTER_VOL_STEREO, 0x0202)
	c.codecWrite(AC97_PCMOUT_VOL, 0x0202)
	c.codecWrite(AC97_HEADPHONE_VOL, 0x0202)

	status := uint16(AC97_EA_SPDIF)
	if c.vra {
		status |= AC97_EA_VRA
	}
	c.codecWrite(AC97_EXTENDED_STATUS, status)

	if c.vra {
		// The codec clears the bit if it cannot run at variable rates.
		c.vra = c.codecRead(AC97_EXTENDED_STATUS)&AC97_EA_VRA != 0
	}

	c.log.Debug("codec initialized", "vra", c.vra)
}

// MixerWrite writes an AC97 mixer register through the codec bus. Exposed
// for hosts that manage volume or routing themselves.
func (c *Card) MixerWrite(reg uint32, val uint16) {
	c.codecWrite(reg, val)
}

// MixerRead reads an AC97 mixer register through the codec bus.
func (c *Card) MixerRead(reg uint32) uint16 {
	return c.codecRead(reg)
}
