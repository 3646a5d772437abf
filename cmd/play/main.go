package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"

	"github.com/gen2brain/ac97"
)

func main() {
	var (
		physStr    string
		bufferSize int
		rate       int
		vra        bool
		verbose    bool
	)

	flag.StringVar(&physStr, "phys", "", "Physical address of the reserved DMA region (hex, e.g. 0x1000000)")
	flag.IntVar(&bufferSize, "buffer-size", 16384, "The PCM ring size in bytes")
	flag.IntVar(&rate, "rate", 0, "The amount of frames per second (0 = use the file's rate)")
	flag.BoolVar(&vra, "vra", true, "Negotiate variable rate audio with the codec")
	flag.BoolVar(&verbose, "verbose", false, "Log bring-up diagnostics")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <wav-or-mp3-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"phys", "buffer-size", "rate", "vra", "verbose"} {
			f := flag.Lookup(name)
			if f != nil {
				fmt.Fprintf(os.Stderr, "  --%s\n    \t%v (default %q)\n", f.Name, f.Usage, f.DefValue)
			}
		}
	}

	flag.Parse()

	if flag.NArg() != 1 || physStr == "" {
		flag.Usage()
		os.Exit(1)
	}

	var phys uint32
	if _, err := fmt.Sscanf(physStr, "0x%x", &phys); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid physical address %q: %v\n", physStr, err)
		os.Exit(1)
	}

	path := flag.Arg(0)
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening audio file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	var decoder AudioDecoder
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		decoder, err = newMp3Decoder(file)
	default:
		decoder, err = newWavDecoder(file)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening decoder: %v\n", err)
		os.Exit(1)
	}

	mem, err := ac97.MapDevMem(phys, ac97.ICH_DMABUF_ALIGN+bufferSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error mapping DMA memory: %v\n", err)
		os.Exit(1)
	}

	opts := &ac97.Options{
		DMA:        mem,
		BufferSize: bufferSize,
		VRA:        vra,
	}
	if verbose {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	card, err := ac97.Detect(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error detecting controller: %v\n", err)
		os.Exit(1)
	}
	defer card.Close()

	want := decoder.SampleRate()
	if rate > 0 {
		want = uint32(rate)
	}
	effective := card.SetRate(want)

	fmt.Println(card.Describe())
	fmt.Printf("Playing: %s\n", path)
	fmt.Printf("Configuration: %d channels, %d Hz (%d requested), %d-bit\n",
		card.Channels(), effective, want, card.Bits())

	if err := play(card, decoder); err != nil {
		fmt.Fprintf(os.Stderr, "Playback error: %v\n", err)
		os.Exit(1)
	}

	stats := card.Stats()
	if stats.Underruns > 0 {
		fmt.Printf("Underruns: %d\n", stats.Underruns)
	}
}

// play streams the decoded audio through the ring one period at a time,
// pacing itself against the hardware playback position.
func play(card *ac97.Card, decoder AudioDecoder) error {
	period := card.PeriodSize()
	periods := card.BufferSize() / period

	pcmBuffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: int(decoder.NumChans()),
			SampleRate:  int(decoder.SampleRate()),
		},
		Data: make([]int, int(period)/2),
	}
	chunk := make([]byte, period)

	// Fill the whole ring before starting the engine.
	for i := uint32(0); i < periods; i++ {
		n, err := fillChunk(decoder, pcmBuffer, chunk)
		if err != nil {
			return err
		}
		card.Write(chunk[:period])
		if n == 0 {
			break
		}
	}

	card.Start()
	defer card.Stop()

	start := time.Now()
	idx := uint32(0)

	for {
		n, err := fillChunk(decoder, pcmBuffer, chunk)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}

		// Wait until the hardware has left the period we are about to
		// overwrite.
		for card.Position()/period == idx {
			time.Sleep(time.Millisecond)
		}

		card.Write(chunk[:period])
		idx = (idx + 1) % periods

		if card.Underrun() {
			fmt.Fprintln(os.Stderr, "Underrun, ring restarted")
			idx = 0
		}
	}

	// Let the last period drain.
	time.Sleep(time.Duration(period) * time.Second /
		time.Duration(card.Rate()*card.Channels()*(card.Bits()/8)))

	fmt.Printf("Playback finished in %v.\n", time.Since(start))

	return nil
}

// fillChunk decodes one period worth of samples into chunk as 16-bit
// little-endian PCM, zero padding the tail on a short read. Returns the
// number of samples decoded.
func fillChunk(decoder AudioDecoder, pcmBuffer *audio.IntBuffer, chunk []byte) (int, error) {
	n, err := decoder.PCMBuffer(pcmBuffer)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}

	shift := int(decoder.BitDepth()) - 16

	for i := range chunk {
		chunk[i] = 0
	}

	for i, s := range pcmBuffer.Data[:n] {
		if shift > 0 {
			s >>= shift
		}
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}

		chunk[i*2] = byte(s)
		chunk[i*2+1] = byte(uint16(int16(s)) >> 8)
	}

	return n, nil
}
