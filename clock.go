package ac97

import "time"

// clockTestBufMax caps the buffer used for the clock measurement pass so the
// test stays well under a second even with large rings.
const clockTestBufMax = 32768

// Bounds of the clock measurement outcome. A corrector inside the accuracy
// window means the clock needs no compensation; one outside the plausibility
// window means the measurement itself is not to be trusted. Both collapse
// the corrector to zero.
const (
	clockAccurateLo  = 0.99
	clockAccurateHi  = 1.01
	clockPlausibleLo = 0.60
	clockPlausibleHi = 1.5
)

// measureClock plays a silent 48 kHz/16-bit/stereo test ring and times how
// long the hardware takes to traverse it, deriving a correction factor for
// codecs whose sample clock deviates from nominal. Interrupt enables are
// parked for the duration of the test. Runs at most once per card; the
// done flag is set even when the measurement is discarded.
func (c *Card) measureClock() {
	const freq = 48000

	c.channels = 2
	c.bits = 16

	size := c.bufSize
	if size > clockTestBufMax {
		size = clockTestBufMax
	}
	size &^= ICH_DMABUF_ALIGN - 1

	c.periodSize = size / ICH_DMABUF_PERIODS
	c.Prepare(freq, 16)
	c.clearBuffer()

	cr := c.read8(ICH_PO_CR_REG)
	c.write8(ICH_PO_CR_REG, 0)

	c.Start()
	start := c.now()
	deadline := start.Add(time.Second)

	for c.now().Before(deadline) {
		// Double read to debounce an index caught mid-update.
		if c.read8(ICH_PO_CIV_REG) >= ICH_DMABUF_PERIODS-1 &&
			c.read8(ICH_PO_CIV_REG) >= ICH_DMABUF_PERIODS-1 {
			break
		}

		c.sleep(pollInterval)
	}
	elapsed := c.now().Sub(start)

	c.Stop()
	c.write8(ICH_PO_CR_REG, cr)

	if elapsed > 0 && elapsed < time.Second {
		// The engine signals the last index on entering it, so the span
		// actually traversed is one period short of the ring.
		span := float64(c.periodSize * (ICH_DMABUF_PERIODS - 1))
		measured := span / elapsed.Seconds()
		nominal := float64(freq * c.channels * (c.bits / 8))

		corrector := nominal / measured
		if corrector > clockAccurateLo && corrector < clockAccurateHi {
			corrector = 0
		}
		if corrector < clockPlausibleLo || corrector > clockPlausibleHi {
			corrector = 0
		}

		c.clockCorrector = corrector
		c.log.Debug("AC97 clock measured", "corrector", corrector, "elapsed", elapsed)
	}

	c.clockDetected = true
}
