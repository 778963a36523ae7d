// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pxar-flash upgrades the firmware of a DTB testboard from a
// flash file.
package main // import "github.com/cfangmeier/pxar/cmd/pxar-flash"

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cfangmeier/pxar/dtb"
)

// newUSB is provided by transport-specific builds.
var newUSB func(name string) (dtb.Testboard, error)

func main() {
	var (
		name = flag.String("dtb", "", "name of the DTB to flash (default: first found)")
		sim  = flag.Bool("sim", false, "flash a simulated testboard")
	)

	log.SetPrefix("pxar-flash: ")
	log.SetFlags(0)

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to flash file")
	}

	err := run(*name, *sim, flag.Arg(0))
	if err != nil {
		log.Fatalf("could not flash DTB: %+v", err)
	}
}

func run(name string, sim bool, fname string) error {
	var (
		tb  dtb.Testboard
		err error
	)
	switch {
	case sim:
		tb = dtb.NewSimulator("DTB_SIM1")
	case newUSB != nil:
		tb, err = newUSB(name)
		if err != nil {
			return fmt.Errorf("could not open USB transport: %w", err)
		}
	default:
		return fmt.Errorf("no USB transport in this build, use -sim")
	}

	hal, err := dtb.New(tb, dtb.WithName(name))
	if err != nil {
		return fmt.Errorf("could not open DTB: %w", err)
	}
	defer hal.Close()

	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open flash file: %w", err)
	}
	defer f.Close()

	log.Printf("flashing %q...", fname)
	err = hal.FlashFirmware(f)
	if err != nil {
		return fmt.Errorf("could not flash firmware: %w", err)
	}
	log.Printf("flashing %q... [done]", fname)
	return nil
}
