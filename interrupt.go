package ac97

// A servicer owns the asynchronous leg of ring maintenance. The two
// implementations are selected at construction: polling-only hosts never arm
// the interrupt enables and their handler claims nothing, interrupt-driven
// hosts arm IOC and last-valid-buffer interrupts and keep the ring looping
// from the handler. The handler only touches the transfer-control, status
// and last-valid-index registers, which keeps it disjoint from the codec bus
// and descriptor programming the synchronous path performs before start.
type servicer interface {
	// startBits returns the transfer-control bits Start sets.
	startBits() uint8

	// descriptorIOC reports whether used BDL slots request an interrupt on
	// completion.
	descriptorIOC() bool

	// service handles one interrupt invocation and reports whether the
	// device had raised anything.
	service(c *Card) bool
}

type pollingServicer struct{}

func (pollingServicer) startBits() uint8    { return ICH_PO_CR_START }
func (pollingServicer) descriptorIOC() bool { return false }
func (pollingServicer) service(*Card) bool  { return false }

type irqServicer struct{}

func (irqServicer) startBits() uint8 {
	return ICH_PO_CR_START | ICH_PO_CR_LVBIE | ICH_PO_CR_IOCE
}

func (irqServicer) descriptorIOC() bool { return true }

func (irqServicer) service(c *Card) bool {
	status := c.read16(c.profile.StatusReg)

	if status&ICH_PO_SR_LVBCI != 0 {
		// The last valid buffer completed: the ring drained before new data
		// arrived. Re-arm the engine and mark the final slot valid again so
		// playback resumes looping.
		c.stats.Underruns++
		c.underrun = true

		c.write8(ICH_PO_CR_REG, c.read8(ICH_PO_CR_REG)|
			ICH_PO_CR_START|ICH_PO_CR_IOCE|ICH_PO_CR_FEIE|ICH_PO_CR_LVBIE)
		c.write8(ICH_PO_LVI_REG, ICH_DMABUF_PERIODS-1)
	}

	if status&ICH_PO_SR_BCIS != 0 {
		// One period finished. Trail the hardware by advancing the last
		// valid index a single slot, which keeps the ring playing
		// indefinitely.
		c.stats.Completions++
		c.write8(ICH_PO_LVI_REG, (c.read8(ICH_PO_LVI_REG)+1)%ICH_DMABUF_PERIODS)
	}

	if status&ICH_PO_SR_FIFO != 0 {
		// The controller recovers from FIFO errors on its own; only count.
		c.stats.FIFOErrors++
	}

	c.write16(c.profile.StatusReg, status&(ICH_PO_SR_LVBCI|ICH_PO_SR_BCIS|ICH_PO_SR_FIFO))

	return status != 0
}

// HandleInterrupt services the device's interrupt line: it acknowledges and
// reacts to completion, underrun and FIFO-error conditions, and reports
// whether this device had raised the interrupt so a shared-line dispatcher
// can decide what to acknowledge. Polling-only cards always report false.
func (c *Card) HandleInterrupt() bool {
	return c.svc.service(c)
}
