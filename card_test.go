package ac97_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/ac97"
)

func TestDetect(t *testing.T) {
	env, err := newSimCard(0x8086, 0x2415, nil)
	require.NoError(t, err)
	defer env.card.Close()

	card := env.card

	assert.Equal(t, uint8(5), card.IRQ())
	assert.Equal(t, uint32(16384), card.BufferSize())
	assert.Equal(t, ac97.DEVICE_INTEL, card.Profile().Family)

	// Bus mastering and I/O decode must be on.
	assert.Equal(t, uint16(0x5), env.cfg.Read16(ac97.PCIR_COMMAND)&0x5)

	// The PCM-out channel was reset during bring-up.
	assert.GreaterOrEqual(t, env.port.resets, 1)

	// Initial mixer state: volumes unmuted, SPDIF enabled.
	assert.Equal(t, uint16(0x0202), env.port.codec[ac97.AC97_MASTER_VOL_STEREO])
	assert.Equal(t, uint16(0x0202), env.port.codec[ac97.AC97_PCMOUT_VOL])
	assert.Equal(t, uint16(0x0202), env.port.codec[ac97.AC97_HEADPHONE_VOL])
	assert.Equal(t, uint16(ac97.AC97_EA_SPDIF), env.port.codec[ac97.AC97_EXTENDED_STATUS])
}

func TestDetectICH4LegacyIO(t *testing.T) {
	env, err := newSimCard(0x8086, 0x24c5, nil)
	require.NoError(t, err)
	defer env.card.Close()

	assert.Equal(t, uint8(1), env.cfg.Read8(ac97.PCIR_ICH4_CFG))
}

func TestDetectSISUnmute(t *testing.T) {
	env, err := newSimCard(0x1039, 0x7012, nil)
	require.NoError(t, err)
	defer env.card.Close()

	assert.Equal(t, uint16(1), env.port.unmute&1)
}

func TestDetectNoBusMaster(t *testing.T) {
	profile, err := ac97.ResolveProfile(0x8086, 0x2415)
	require.NoError(t, err)

	cfg := &simConfig{roBARs: true}
	dma := newSimDMA(simDMASize)

	_, err = ac97.Detect(&ac97.Options{
		Port:    newSimPort(profile),
		Config:  cfg,
		Profile: profile,
		DMA:     dma,
		Sleep:   func(time.Duration) {},
	})
	require.ErrorIs(t, err, ac97.ErrNoBusMaster)

	// Construction failure releases every acquired resource.
	assert.Equal(t, 1, dma.releases)
	assert.Equal(t, 1, cfg.closed)
}

func TestDetectIRQFallback(t *testing.T) {
	profile, err := ac97.ResolveProfile(0x8086, 0x2415)
	require.NoError(t, err)

	cfg := newSimConfig()
	cfg.Write8(ac97.PCIR_INTR_LN, 0xFF)

	card, err := ac97.Detect(&ac97.Options{
		Port:    newSimPort(profile),
		Config:  cfg,
		Profile: profile,
		DMA:     newSimDMA(simDMASize),
		Sleep:   func(time.Duration) {},
	})
	require.NoError(t, err)
	defer card.Close()

	assert.Equal(t, uint8(11), card.IRQ())
}

func TestDetectRequiresDMA(t *testing.T) {
	_, err := ac97.Detect(&ac97.Options{})
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	env, err := newSimCard(0x8086, 0x24c5, nil)
	require.NoError(t, err)
	defer env.card.Close()

	desc := env.card.Describe()
	assert.Contains(t, desc, "ICH4")
	assert.Contains(t, desc, "irq:5")
	assert.Contains(t, desc, "16,20")
}

func TestCloseIdempotent(t *testing.T) {
	env, err := newSimCard(0x8086, 0x2415, nil)
	require.NoError(t, err)

	env.card.Stop()
	require.NoError(t, env.card.Close())

	// A second stop/close on a closed card is a no-op that must not fault.
	env.card.Stop()
	require.NoError(t, env.card.Close())

	assert.Equal(t, 1, env.dma.releases)
	assert.Equal(t, 1, env.cfg.closed)
}

func TestBufferSizeRequested(t *testing.T) {
	env, err := newSimCard(0x8086, 0x2415, &ac97.Options{BufferSize: 8192})
	require.NoError(t, err)
	defer env.card.Close()

	assert.Equal(t, uint32(8192), env.card.BufferSize())
}

func TestBufferSizeRoundsDown(t *testing.T) {
	env, err := newSimCard(0x8086, 0x2415, &ac97.Options{BufferSize: 8200})
	require.NoError(t, err)
	defer env.card.Close()

	// Rounded down to the descriptor-table alignment.
	assert.Equal(t, uint32(8192), env.card.BufferSize())
}
