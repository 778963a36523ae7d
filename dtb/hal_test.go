// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	sim := NewSimulator("")
	hal := newTestHAL(t, sim)
	defer hal.Close()

	if hal.Initialized() {
		t.Fatalf("HAL marked initialized before Init")
	}
}

func TestNewSelectsByName(t *testing.T) {
	sim := NewSimulator("DTB_WXYZ42")
	hal, err := New(sim,
		WithLogger(log.New(io.Discard, "", 0)),
		WithName("DTB_WXYZ42"),
	)
	if err != nil {
		t.Fatalf("could not create HAL: %+v", err)
	}
	defer hal.Close()
}

func TestFindDTB(t *testing.T) {
	for _, tc := range []struct {
		devs []string
		name string
		want string
		err  string
	}{
		{
			devs: []string{"DTB_WPO03"},
			want: "DTB_WPO03",
		},
		{
			devs: []string{"FT232_FOO", "DTB_WPO03"},
			want: "DTB_WPO03",
		},
		{
			devs: []string{"FT232_FOO"},
			err:  "no DTB connected",
		},
		{
			devs: nil,
			err:  "no DTB connected",
		},
		{
			devs: []string{"DTB_WPO03", "DTB_WS515"},
			err:  "2 DTBs connected (DTB_WPO03, DTB_WS515), select one explicitly",
		},
		{
			devs: []string{"DTB_WPO03", "DTB_WS515"},
			name: "DTB_WS515",
			want: "DTB_WS515",
		},
		{
			devs: []string{"DTB_WPO03"},
			name: "DTB_WS515",
			err:  `board "DTB_WS515" not attached (found DTB_WPO03)`,
		},
	} {
		t.Run(fmt.Sprintf("%v-%s", tc.devs, tc.name), func(t *testing.T) {
			hal := &HAL{
				msg: log.New(io.Discard, "", 0),
				tb:  &enumTB{Simulator: NewSimulator(""), devs: tc.devs},
			}
			dev, err := hal.findDTB(tc.name)
			switch {
			case tc.err != "":
				if err == nil {
					t.Fatalf("expected an error, got dev=%q", dev)
				}
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
				}
			default:
				if err != nil {
					t.Fatalf("could not find DTB: %+v", err)
				}
				if got, want := dev, tc.want; got != want {
					t.Fatalf("invalid device: got=%q, want=%q", got, want)
				}
			}
		})
	}
}

func TestInit(t *testing.T) {
	tb := newFakeTB()
	hal := newTestHAL(t, tb)
	defer hal.Close()

	setup := Setup{
		VA: 1.9, VD: 2.6,
		IA: 1.190, ID: 1.100,
		Delays: map[uint8]uint8{
			SigClk:           4,
			SigCtr:           4,
			SigSDA:           19,
			SigTin:           9,
			SigDeser160Phase: 4,
		},
		PG: []PGEntry{
			{Pattern: PGResR, Delay: 25},
			{Pattern: PGCal, Delay: 101},
			{Pattern: PGTrg, Delay: 16},
			{Pattern: PGTok, Delay: 0},
		},
	}

	err := hal.Init(setup)
	if err != nil {
		t.Fatalf("could not initialize testboard: %+v", err)
	}
	if !hal.Initialized() {
		t.Fatalf("HAL not marked initialized")
	}

	// The deser160 phase value must be routed to the phase selector,
	// not to a delay register.
	var (
		phased  bool
		delayed bool
	)
	for _, call := range tb.calls {
		switch call {
		case "DaqSelectDeser160(4)":
			phased = true
		case fmt.Sprintf("SigSetDelay(%d,4)", SigDeser160Phase):
			delayed = true
		}
	}
	if !phased {
		t.Fatalf("deser160 phase not programmed: %v", tb.calls)
	}
	if delayed {
		t.Fatalf("deser160 phase programmed as delay register: %v", tb.calls)
	}

	if got, want := tb.delays[SigSDA], uint8(19); got != want {
		t.Fatalf("invalid sda delay: got=%d, want=%d", got, want)
	}
	if got, want := len(tb.pg), 4; got != want {
		t.Fatalf("invalid PG program length: got=%d, want=%d", got, want)
	}
	if got, want := tb.pg[1], PGCal|101; got != want {
		t.Fatalf("invalid PG cmd 1: got=0x%04x, want=0x%04x", got, want)
	}
}

func TestSetupPatternGenerator(t *testing.T) {
	tb := newFakeTB()
	hal := newTestHAL(t, tb)
	defer hal.Close()

	for _, tc := range []struct {
		name string
		pg   []PGEntry
		err  string
	}{
		{
			name: "empty",
		},
		{
			name: "single",
			pg:   []PGEntry{{Pattern: PGTrg | PGTok, Delay: 0}},
		},
		{
			name: "zero-delay-inside",
			pg: []PGEntry{
				{Pattern: PGResR, Delay: 0},
				{Pattern: PGTrg, Delay: 0},
			},
			err: "dtb: PG entry 0 (pattern 0x0800) has zero delay before end of program",
		},
		{
			name: "unterminated",
			pg: []PGEntry{
				{Pattern: PGResR, Delay: 25},
				{Pattern: PGTrg, Delay: 16},
			},
			err: "dtb: PG program does not terminate (last delay=16)",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tb.pg = tb.pg[:0]
			err := hal.SetupPatternGenerator(tc.pg)
			switch {
			case tc.err != "":
				if err == nil {
					t.Fatalf("expected an error")
				}
				if got, want := err.Error(), tc.err; got != want {
					t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
				}
			default:
				if err != nil {
					t.Fatalf("could not program PG: %+v", err)
				}
				if got, want := len(tb.pg), len(tc.pg); got != want {
					t.Fatalf("invalid PG length: got=%d, want=%d", got, want)
				}
			}
		})
	}
}

func TestPowerScalings(t *testing.T) {
	sim := NewSimulator("")
	hal := newTestHAL(t, sim)
	defer hal.Close()

	err := hal.POn()
	if err != nil {
		t.Fatalf("could not power on: %+v", err)
	}

	if err := hal.SetTBva(1.9); err != nil {
		t.Fatalf("could not set VA: %+v", err)
	}
	if err := hal.SetTBvd(2.6); err != nil {
		t.Fatalf("could not set VD: %+v", err)
	}
	if err := hal.SetTBia(1.19); err != nil {
		t.Fatalf("could not set IA: %+v", err)
	}
	if err := hal.SetTBid(1.1); err != nil {
		t.Fatalf("could not set ID: %+v", err)
	}

	// Register-level values: mV and 100 uA units.
	if got, want := sim.va, uint16(1900); got != want {
		t.Fatalf("invalid VA register: got=%d, want=%d", got, want)
	}
	if got, want := sim.vd, uint16(2600); got != want {
		t.Fatalf("invalid VD register: got=%d, want=%d", got, want)
	}
	if got, want := sim.ia, uint16(11900); got != want {
		t.Fatalf("invalid IA register: got=%d, want=%d", got, want)
	}
	if got, want := sim.id, uint16(11000); got != want {
		t.Fatalf("invalid ID register: got=%d, want=%d", got, want)
	}

	va, err := hal.TBva()
	if err != nil {
		t.Fatalf("could not read VA: %+v", err)
	}
	if got, want := va, 1.9; got != want {
		t.Fatalf("invalid VA: got=%v, want=%v", got, want)
	}

	// The simulator draws half of the programmed limit.
	ia, err := hal.TBia()
	if err != nil {
		t.Fatalf("could not read IA: %+v", err)
	}
	if got, want := ia, 0.595; got != want {
		t.Fatalf("invalid IA: got=%v, want=%v", got, want)
	}
}

func TestRocSetDACs(t *testing.T) {
	tb := newFakeTB()
	hal := newTestHAL(t, tb)
	defer hal.Close()

	err := hal.InitROC(3, map[uint8]uint8{
		0x19: 200, // vcal
		0x02: 84,  // vana
		0xfe: 100, // wbc
	})
	if err != nil {
		t.Fatalf("could not init ROC: %+v", err)
	}

	if got, want := tb.dacs[3][0x19], uint8(200); got != want {
		t.Fatalf("invalid vcal: got=%d, want=%d", got, want)
	}

	// The chip must be selected before each DAC write, and the batch
	// must be programmed in ascending register order.
	var seq []string
	for _, call := range tb.calls {
		if strings.HasPrefix(call, "RocI2CAddr") || strings.HasPrefix(call, "RocSetDAC") {
			seq = append(seq, call)
		}
	}
	want := []string{
		"RocI2CAddr(3)", "RocSetDAC(0x02,84)",
		"RocI2CAddr(3)", "RocSetDAC(0x19,200)",
		"RocI2CAddr(3)", "RocSetDAC(0xfe,100)",
	}
	if got, want := strings.Join(seq, ";"), strings.Join(want, ";"); got != want {
		t.Fatalf("invalid call sequence:\ngot= %s\nwant=%s", got, want)
	}
}

func TestInitTBM(t *testing.T) {
	tb := newFakeTB()
	hal := newTestHAL(t, tb)
	defer hal.Close()

	err := hal.InitTBM(0, map[uint8]uint8{
		0x0: 0x80,
		0x2: 0xc0,
		0x4: 0xf4,
	})
	if err != nil {
		t.Fatalf("could not init TBM: %+v", err)
	}

	if !tb.tbmOn {
		t.Fatalf("TBM not enabled")
	}
	if got, want := tb.hub, uint8(31); got != want {
		t.Fatalf("invalid hub address: got=%d, want=%d", got, want)
	}
	if got, want := tb.tbmRegs[0x2], uint8(0xc0); got != want {
		t.Fatalf("invalid TBM register 0x2: got=0x%02x, want=0x%02x", got, want)
	}
}

func TestRocSetMask(t *testing.T) {
	sim := NewSimulator("")
	hal := newTestHAL(t, sim)
	defer hal.Close()

	// Unmask with default trims.
	err := hal.RocSetMask(0, false, nil)
	if err != nil {
		t.Fatalf("could not unmask ROC: %+v", err)
	}
	for i, m := range sim.masked[0] {
		if m {
			t.Fatalf("pixel %d still masked after unmask", i)
		}
	}
	for col, on := range sim.cols[0] {
		if !on {
			t.Fatalf("column %d not enabled after unmask", col)
		}
	}

	// Whole-chip mask.
	err = hal.RocSetMask(0, true, nil)
	if err != nil {
		t.Fatalf("could not mask ROC: %+v", err)
	}
	for i, m := range sim.masked[0] {
		if !m {
			t.Fatalf("pixel %d not masked", i)
		}
	}
}

func TestPixelSetMask(t *testing.T) {
	sim := NewSimulator("")
	hal := newTestHAL(t, sim)
	defer hal.Close()

	err := hal.RocSetMask(0, false, nil)
	if err != nil {
		t.Fatalf("could not unmask ROC: %+v", err)
	}

	err = hal.PixelSetMask(0, 5, 7, true, 15)
	if err != nil {
		t.Fatalf("could not mask pixel: %+v", err)
	}
	if !sim.masked[0][5*NumRows+7] {
		t.Fatalf("pixel (5,7) not masked")
	}

	err = hal.PixelSetMask(0, 5, 7, false, 15)
	if err != nil {
		t.Fatalf("could not unmask pixel: %+v", err)
	}
	if sim.masked[0][5*NumRows+7] {
		t.Fatalf("pixel (5,7) still masked")
	}
}

func TestSignalProbe(t *testing.T) {
	sim := NewSimulator("")
	hal := newTestHAL(t, sim)
	defer hal.Close()

	for _, port := range []string{"a1", "a2", "d1", "d2"} {
		err := hal.SignalProbe(port, probeIDs["pgtrg"])
		if err != nil {
			t.Fatalf("could not probe port %q: %+v", port, err)
		}
	}

	err := hal.SignalProbe("x1", 0)
	if err == nil {
		t.Fatalf("expected an error for invalid probe port")
	}
}

func TestHV(t *testing.T) {
	sim := NewSimulator("")
	hal := newTestHAL(t, sim)
	defer hal.Close()

	if err := hal.POn(); err != nil {
		t.Fatalf("could not power on: %+v", err)
	}
	if err := hal.HVOn(); err != nil {
		t.Fatalf("could not switch HV on: %+v", err)
	}
	if !sim.hv {
		t.Fatalf("HV not on")
	}
	if err := hal.HVOff(); err != nil {
		t.Fatalf("could not switch HV off: %+v", err)
	}
	if sim.hv {
		t.Fatalf("HV still on")
	}

	// Powering off drops the HV as well.
	if err := hal.HVOn(); err != nil {
		t.Fatalf("could not switch HV on: %+v", err)
	}
	if err := hal.POff(); err != nil {
		t.Fatalf("could not power off: %+v", err)
	}
	if sim.hv {
		t.Fatalf("HV survived power-off")
	}
}
