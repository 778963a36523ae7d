// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pxar-srv serves a DTB testboard over a TCP control
// connection, one JSON request per command.
package main // import "github.com/cfangmeier/pxar/cmd/pxar-srv"

import (
	"flag"
	"fmt"
	"log"

	"github.com/cfangmeier/pxar/dtb"
)

// newUSB is provided by transport-specific builds.
var newUSB func(name string) (dtb.Testboard, error)

func board(name string, sim bool) (dtb.Testboard, error) {
	if sim {
		return dtb.NewSimulator("DTB_SIM1"), nil
	}
	if newUSB == nil {
		return nil, fmt.Errorf("no USB transport in this build, use -sim")
	}
	return newUSB(name)
}

func main() {
	var (
		addr = flag.String("addr", ":8866", "pxar-srv [addr]:port to listen on")
		name = flag.String("dtb", "", "name of the DTB to drive (default: first found)")
		sim  = flag.Bool("sim", false, "drive a simulated testboard")
	)

	log.SetPrefix("pxar-srv: ")
	log.SetFlags(0)

	flag.Parse()

	tb, err := board(*name, *sim)
	if err != nil {
		log.Fatalf("could not open testboard: %+v", err)
	}

	err = dtb.Serve(*addr, tb, dtb.WithName(*name))
	if err != nil {
		log.Fatalf("could not serve DTB: %+v", err)
	}
}
