package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gen2brain/ac97"
)

func main() {
	var list bool

	flag.BoolVar(&list, "list", false, "List all supported controllers instead of scanning the PCI bus")
	flag.Parse()

	if list {
		fmt.Println("Supported controllers:")
		for _, p := range ac97.Profiles() {
			fmt.Printf("  %04x:%04x  %-10s %s\n", p.Vendor, p.Device, p.Name,
				ac97.DeviceFamilyNames[p.Family])
		}

		return
	}

	cfg, profile, err := ac97.FindPCIDevice()
	if err != nil {
		fmt.Fprintf(os.Stderr, "No supported controller found: %v\n", err)
		os.Exit(1)
	}
	defer cfg.Close()

	fmt.Printf("Controller:  %s (%04x:%04x)\n", profile.Name, profile.Vendor, profile.Device)
	fmt.Printf("Family:      %s\n", ac97.DeviceFamilyNames[profile.Family])
	fmt.Printf("Bus master:  %#04x\n", cfg.Read32(ac97.PCIR_NABMBAR)&0xfff0)
	fmt.Printf("Codec:       %#04x\n", cfg.Read32(ac97.PCIR_NAMBAR)&0xfff0)
	fmt.Printf("IRQ:         %d\n", cfg.Read8(ac97.PCIR_INTR_LN))

	bits := "16"
	if profile.Sample20Bit {
		bits = "16,20"
	}
	fmt.Printf("Sample bits: %s\n", bits)

	if profile.PeriodInBytes {
		fmt.Println("Positions reported in bytes")
	}
}
