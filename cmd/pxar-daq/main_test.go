// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cfangmeier/pxar/dtb"
)

const testParams = `
power:
  va: 1.9
  vd: 2.6
  ia: 1.19
  id: 1.10
delays:
  clk: 2
  ctr: 2
  sda: 17
  tin: 7
  deser160phase: 4
pattern_generator:
  - signals: [resr]
    delay: 25
  - signals: [cal]
    delay: 101
  - signals: [trg]
    delay: 16
  - signals: [tok]
    delay: 0
rocs:
  - id: 0
    dacs:
      vana: 80
      vcal: 200
      caldel: 120
      wbc: 100
    trim: 15
tbm:
  enabled: false
`

func TestRunSim(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "params.yaml")
	err := os.WriteFile(fname, []byte(testParams), 0644)
	if err != nil {
		t.Fatalf("could not write parameter file: %+v", err)
	}

	err = run(fname, "", 3, 11, 20, dir, "", true)
	if err != nil {
		t.Fatalf("could not run DAQ: %+v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "pxar_000000.raw"))
	if err != nil {
		t.Fatalf("could not read raw output: %+v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("empty raw output")
	}

	txt, err := os.ReadFile(filepath.Join(dir, "pxar_000000.txt"))
	if err != nil {
		t.Fatalf("could not read decoded output: %+v", err)
	}
	if len(txt) == 0 {
		t.Fatalf("empty decoded output")
	}

	if _, err := os.Stat(filepath.Join(dir, "pxar_000000.yoda")); err != nil {
		t.Fatalf("missing summary file: %+v", err)
	}
}

func TestProcessModule(t *testing.T) {
	// a 16-ROC module with a TBM08: channel 0 serves ROCs 0-7 and
	// channel 1 serves ROCs 8-15. the same raw words on each channel
	// must thus decode to different ROC ids.
	var params dtb.Params
	params.ROCs = make([]dtb.ROCParams, 16)
	for i := range params.ROCs {
		params.ROCs[i].ID = uint8(i)
	}
	params.TBM.Enabled = true

	pix := dtb.Pixel{Col: 11, Row: 20, Value: 156}
	raw := dtb.EncodePixel(pix, false)
	words := []uint16{0xa000, 0x8000, 0x4000,
		uint16(raw>>12) & 0x0fff,
		uint16(raw) & 0x0fff,
	}
	for i := 0; i < 7; i++ {
		words = append(words, 0x4000)
	}
	words = append(words, 0xe000, 0xc000)

	channels := [][]uint16{words, words}

	dir := t.TempDir()
	stats, err := process(channels, params, 1, dir, 0)
	if err != nil {
		t.Fatalf("could not process raw data: %+v", err)
	}
	if got, want := stats.EventsValid, uint64(2); got != want {
		t.Fatalf("invalid event count: got=%d, want=%d", got, want)
	}

	txt, err := os.ReadFile(filepath.Join(dir, "pxar_000000.txt"))
	if err != nil {
		t.Fatalf("could not read decoded output: %+v", err)
	}
	for _, want := range []string{
		"pix{roc: 0, col: 11, row: 20, val: 156}",
		"pix{roc: 8, col: 11, row: 20, val: 156}",
	} {
		if !strings.Contains(string(txt), want) {
			t.Fatalf("missing %q in decoded output:\n%s", want, txt)
		}
	}
}

func TestRunNoTransport(t *testing.T) {
	dir := t.TempDir()
	fname := filepath.Join(dir, "params.yaml")
	err := os.WriteFile(fname, []byte(testParams), 0644)
	if err != nil {
		t.Fatalf("could not write parameter file: %+v", err)
	}

	err = run(fname, "", 3, 11, 20, dir, "", false)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "no USB transport in this build, use -sim"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}
