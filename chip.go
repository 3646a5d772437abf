package ac97

// chipInit brings the controller from its power-on state to a ready AC-link:
// sticky interrupt status cleared, link enabled, a cold or warm reset issued
// and waited out, the primary codec awaited and the PCM-out channel reset.
func (c *Card) chipInit() {
	status := c.read32(ICH_GLOB_STAT_REG)

	// Clear sticky status, preserving only the read-completion and
	// interrupt-source bits.
	c.write32(ICH_GLOB_STAT_REG, status&(ICH_GLOB_STAT_RCS|ICH_GLOB_STAT_MCINT|ICH_GLOB_STAT_POINT|ICH_GLOB_STAT_PIINT))

	cmd := c.read32(ICH_GLOB_CNT_REG)
	cmd &^= ICH_GLOB_CNT_ACLINKOFF | c.profile.ChannelMask

	// Finish a cold reset if the link was cold, otherwise warm reset.
	if cmd&ICH_GLOB_CNT_AC97COLD == 0 {
		cmd |= ICH_GLOB_CNT_AC97COLD
	} else {
		cmd |= ICH_GLOB_CNT_AC97WARM
	}
	c.write32(ICH_GLOB_CNT_REG, cmd)

	if cmd&ICH_GLOB_CNT_AC97COLD != 0 && cmd&ICH_GLOB_CNT_AC97WARM == 0 {
		c.log.Debug("AC97 cold reset issued")
	} else {
		c.log.Debug("AC97 warm reset issued")
	}

	// The warm reset bit self clears once the link is back up.
	if !c.waitFor(ICH_DEFAULT_RETRY, func() bool {
		return c.read32(ICH_GLOB_CNT_REG)&ICH_GLOB_CNT_AC97WARM == 0
	}) {
		c.log.Warn("AC97 reset did not self-clear")
	}

	if !c.codecReady(ICH_GLOB_STAT_PCR) {
		c.log.Warn("primary codec not ready after reset")
	}

	// One dummy read clears a semaphore latched across the reset.
	c.codecRead(0)

	c.write8(ICH_PO_CR_REG, ICH_PO_CR_RESET)

	if c.profile.Family == DEVICE_SIS {
		// The SIS7012 ships with the output muted behind a vendor register.
		c.write16(ICH_SIS_UNMUTE_REG, c.read16(ICH_SIS_UNMUTE_REG)|1)
	}
}

// chipClose resets the PCM-out channel. Idempotent; a card whose bus-master
// base was never claimed is left untouched.
func (c *Card) chipClose() {
	if c.baseBM == 0 || c.port == nil {
		return
	}

	c.write8(ICH_PO_CR_REG, ICH_PO_CR_RESET)
}

// setupChannels programs the channel count and sample width into the global
// control register and returns the effective sample width. Stereo is forced
// by clearing the 4/6-channel mask; 20-bit samples only materialize on ICH4
// parts whose capability bits report 16/20-bit support.
func (c *Card) setupChannels(bitsRequested uint32) uint32 {
	cmd := c.read32(ICH_GLOB_CNT_REG)

	if c.profile.Family == DEVICE_SIS {
		cmd &^= c.profile.ChannelMask
		c.write32(ICH_GLOB_CNT_REG, cmd)

		return 16
	}

	cmd &^= c.profile.ChannelMask | ICH_PCM_20BIT

	bits := uint32(16)
	if bitsRequested > 16 && c.profile.Sample20Bit {
		if c.read32(ICH_GLOB_STAT_REG)&ICH_SAMPLE_CAP == ICH_SAMPLE_16_20 {
			bits = 32
			cmd |= ICH_PCM_20BIT
		}
	}

	c.write32(ICH_GLOB_CNT_REG, cmd)

	return bits
}
