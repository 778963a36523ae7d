// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"testing"
)

func TestROCDACRegs(t *testing.T) {
	roc := ROC{
		I2C:    4,
		Flavor: FlavorPSI46DigV21R,
		Vana:   80,
		Vcal:   200,
		CalDel: 120,
		WBC:    100,
	}

	regs, err := roc.DACRegs()
	if err != nil {
		t.Fatalf("could not resolve DAC vector: %+v", err)
	}

	if got, want := len(regs), 22; got != want {
		t.Fatalf("invalid number of DACs: got=%d, want=%d", got, want)
	}
	for _, tc := range []struct {
		reg  uint8
		want uint8
	}{
		{0x02, 80},  // vana
		{0x19, 200}, // vcal
		{0x1a, 120}, // caldel
		{0xfe, 100}, // wbc
	} {
		if got := regs[tc.reg]; got != tc.want {
			t.Errorf("invalid value for DAC 0x%02x: got=%d, want=%d", tc.reg, got, tc.want)
		}
	}
}

func TestROCFlavor(t *testing.T) {
	for _, tc := range []struct {
		flavor   string
		inverted bool
		readback bool
	}{
		{FlavorPSI46Dig, true, false},
		{FlavorPSI46DigV2, false, true},
		{FlavorPSI46DigV21R, false, true},
	} {
		t.Run(tc.flavor, func(t *testing.T) {
			roc := ROC{Flavor: tc.flavor}
			if got, want := roc.InvertedAddress(), tc.inverted; got != want {
				t.Fatalf("invalid inverted-address flag: got=%v, want=%v", got, want)
			}
			if got, want := roc.HasReadback(), tc.readback; got != want {
				t.Fatalf("invalid readback flag: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestTBMRegs(t *testing.T) {
	tbm := TBM{
		Base0: 0x81,
		Base2: 0xc0,
		Base4: 0xf4,
		Base8: 0x10,
		BaseA: 0x80,
		BaseC: 0xe8,
		BaseE: 0x20,
	}

	regs, err := tbm.Regs()
	if err != nil {
		t.Fatalf("could not resolve TBM registers: %+v", err)
	}

	if got, want := len(regs), 7; got != want {
		t.Fatalf("invalid number of registers: got=%d, want=%d", got, want)
	}
	if got, want := regs[0x4], uint8(0xf4); got != want {
		t.Fatalf("invalid base4 value: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := regs[0xe], uint8(0x20); got != want {
		t.Fatalf("invalid basee value: got=0x%02x, want=0x%02x", got, want)
	}
}
