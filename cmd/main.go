package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nevisdale/gigasd/internal/disk"
	"github.com/nevisdale/gigasd/internal/firmware"
	"github.com/nevisdale/gigasd/internal/gigatron"
	"github.com/nevisdale/gigasd/internal/sdcard"
	"github.com/nevisdale/gigasd/internal/ui"
	"github.com/pkg/profile"
	"golang.org/x/term"
)

// enough probes for a few blocks
const maxProbes = 1 << 20

type optionFlags struct {
	image   string
	block   uint
	count   uint
	latency int

	showUI  bool
	trace   bool
	profile bool
	quiet   bool
}

func main() {
	options := readArguments()

	var prof interface{ Stop() }
	if options.profile {
		prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet)
	}

	err := run(options)
	if prof != nil {
		prof.Stop()
	}
	if err != nil {
		log.Fatalf("gigasd: %s\n", err)
	}
}

func readArguments() optionFlags {
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	options := optionFlags{}

	flags.StringVar(&options.image, "image", "", "SD card image to attach")
	flags.UintVar(&options.block, "block", 0, "first block to read")
	flags.UintVar(&options.count, "count", 1, "number of blocks to read")
	flags.IntVar(&options.latency, "latency", 0, "cycles before a read request is answered")
	flags.BoolVar(&options.showUI, "ui", false, "show the recorded SPI bus in a window")
	flags.BoolVar(&options.trace, "trace", false, "print every SPI byte instead of a hex dump")
	flags.BoolVar(&options.profile, "profile", false, "write a CPU profile to the current directory")
	flags.BoolVar(&options.quiet, "q", false, "perform operations quietly")

	err := flags.Parse(os.Args[1:])
	if err != nil || options.image == "" || options.count == 0 {
		fmt.Printf("usage: gigasd -image <file> [options]\n\n")
		flags.PrintDefaults()
		os.Exit(1)
	}
	return options
}

func run(options optionFlags) error {
	img, err := disk.Open(options.image)
	if err != nil {
		return err
	}
	defer img.Close()

	// the banner only goes to a terminal so that dumps stay clean in pipes
	if !options.quiet && term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("gigasd: %s, %d blocks\n\n", options.image, img.Blocks())
	}

	board := gigatron.NewBoard()
	board.AttachImage(img, options.latency)
	host := firmware.New(board)
	if options.latency > 0 {
		host.MaxTokenPolls = max(host.MaxTokenPolls, options.latency/16+64)
	}

	if err := host.Init(); err != nil {
		return err
	}

	if options.trace || options.showUI {
		board.Record(maxProbes)
	}

	buf := make([]byte, sdcard.BlockSize)
	for n := uint32(options.block); n < uint32(options.block+options.count); n++ {
		if err := host.ReadBlock(n, buf); err != nil {
			return err
		}
		if !options.trace {
			fmt.Printf("block %d\n%s\n", n, hex.Dump(buf))
		}
	}
	host.Deselect()

	if !options.quiet {
		log.Printf("read %d blocks in %d cycles\n", options.count, board.Clock())
	}

	if options.trace {
		fmt.Print(gigatron.Dump(gigatron.Transfers(board.Probes())))
	}
	if options.showUI {
		title := fmt.Sprintf("%s blocks %d-%d", options.image, options.block, options.block+options.count-1)
		return ui.RunUI(ui.New(title, board.Probes()))
	}
	return nil
}
