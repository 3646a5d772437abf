package ac97_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/ac97"
)

func newIRQCard(t *testing.T) *simEnv {
	t.Helper()

	env, err := newSimCard(0x8086, 0x24c5, &ac97.Options{EnableInterrupts: true})
	require.NoError(t, err)
	t.Cleanup(func() { env.card.Close() })

	env.card.SetRate(48000)
	env.card.Start()

	return env
}

func TestHandleInterruptUnderrun(t *testing.T) {
	env := newIRQCard(t)

	env.port.lvi = 2
	env.port.sr |= ac97.ICH_PO_SR_LVBCI

	assert.True(t, env.card.HandleInterrupt())
	assert.True(t, env.card.Underrun())
	assert.Equal(t, 1, env.card.Stats().Underruns)

	// The engine is re-armed with the final slot valid again and the
	// condition acknowledged.
	assert.Equal(t, uint8(ac97.ICH_DMABUF_PERIODS-1), env.port.lvi)
	assert.NotZero(t, env.port.cr&ac97.ICH_PO_CR_START)
	assert.NotZero(t, env.port.cr&ac97.ICH_PO_CR_LVBIE)
	assert.NotZero(t, env.port.cr&ac97.ICH_PO_CR_FEIE)
	assert.Zero(t, env.port.sr&ac97.ICH_PO_SR_LVBCI)
	assert.NotZero(t, env.port.lastAck&ac97.ICH_PO_SR_LVBCI)
}

func TestHandleInterruptCompletion(t *testing.T) {
	env := newIRQCard(t)

	env.port.lvi = 1
	env.port.sr |= ac97.ICH_PO_SR_BCIS

	assert.True(t, env.card.HandleInterrupt())
	assert.Equal(t, uint8(2), env.port.lvi)
	assert.Equal(t, 1, env.card.Stats().Completions)
	assert.Zero(t, env.port.sr&ac97.ICH_PO_SR_BCIS)
	assert.False(t, env.card.Underrun())
}

func TestHandleInterruptCompletionWraps(t *testing.T) {
	env := newIRQCard(t)

	env.port.lvi = ac97.ICH_DMABUF_PERIODS - 1
	env.port.sr |= ac97.ICH_PO_SR_BCIS

	assert.True(t, env.card.HandleInterrupt())
	assert.Equal(t, uint8(0), env.port.lvi)
}

func TestHandleInterruptFIFOError(t *testing.T) {
	env := newIRQCard(t)

	lvi := env.port.lvi
	env.port.sr |= ac97.ICH_PO_SR_FIFO

	assert.True(t, env.card.HandleInterrupt())
	assert.Equal(t, 1, env.card.Stats().FIFOErrors)
	assert.Equal(t, lvi, env.port.lvi, "FIFO errors do not move the ring")
	assert.Zero(t, env.port.sr&ac97.ICH_PO_SR_FIFO)
}

func TestHandleInterruptNothingRaised(t *testing.T) {
	env := newIRQCard(t)

	env.port.sr &^= ac97.ICH_PO_SR_LVBCI | ac97.ICH_PO_SR_BCIS | ac97.ICH_PO_SR_FIFO
	sr := env.port.sr

	// DCH may still read back set; the handler claims the interrupt for any
	// nonzero status, so a shared-line dispatcher sees the truth either way.
	assert.Equal(t, sr != 0, env.card.HandleInterrupt())
	assert.Zero(t, env.card.Stats().Completions)
}

func TestHandleInterruptPollingClaimsNothing(t *testing.T) {
	env, err := newSimCard(0x8086, 0x24c5, nil)
	require.NoError(t, err)
	defer env.card.Close()

	env.card.SetRate(48000)
	env.card.Start()
	env.port.sr |= ac97.ICH_PO_SR_BCIS

	assert.False(t, env.card.HandleInterrupt())
	assert.NotZero(t, env.port.sr&ac97.ICH_PO_SR_BCIS, "polling mode never acknowledges")
}
