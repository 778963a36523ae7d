// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
	"strings"
)

// Testboard signal identifiers understood by SigSetDelay.
const (
	SigClk uint8 = iota
	SigCtr
	SigSDA
	SigTin
	// SigDeser160Phase is not a delay register: the value is routed
	// to the DESER160 phase selector instead.
	SigDeser160Phase
)

// Pattern generator signal bits. Entries of a PG program OR one or
// more of these with a delay to the next entry.
const (
	PGTok  uint16 = 0x0100
	PGTrg  uint16 = 0x0200
	PGCal  uint16 = 0x0400
	PGResR uint16 = 0x0800
	PGResT uint16 = 0x1000
	PGSync uint16 = 0x2000
)

// PGEntry is one slot of a pattern generator program: the signal
// pattern to emit and the delay (in clock units) to the next slot.
// The program terminates at the first entry with a zero delay.
type PGEntry struct {
	Pattern uint16 `yaml:"pattern" json:"pattern"`
	Delay   uint8  `yaml:"delay" json:"delay"`
}

func (e PGEntry) cmd() uint16 { return e.Pattern | uint16(e.Delay) }

// TBM core register bases. A register write goes to both cores,
// Core-A at 0xE0|reg and Core-B at 0xF0|reg.
const (
	TBMCoreA uint8 = 0xE0
	TBMCoreB uint8 = 0xF0
)

var dacIDs = map[string]uint8{
	"vdig":       0x01,
	"vana":       0x02,
	"vsh":        0x03,
	"vcomp":      0x04,
	"vwllpr":     0x07,
	"vwllsh":     0x09,
	"vhlddel":    0x0a,
	"vtrim":      0x0b,
	"vthrcomp":   0x0c,
	"vibias_bus": 0x0d,
	"vbias_sf":   0x0e,
	"voffsetop":  0x0f,
	"voffsetro":  0x11,
	"vion":       0x12,
	"vcomp_adc":  0x13,
	"phoffset":   0x14,
	"phscale":    0x15,
	"vicolor":    0x16,
	"vcal":       0x19,
	"caldel":     0x1a,
	"ctrlreg":    0xfd,
	"wbc":        0xfe,
	"readback":   0xff,
}

var tbmRegIDs = map[string]uint8{
	"base0": 0x0,
	"base2": 0x2,
	"base4": 0x4,
	"base8": 0x8,
	"basea": 0xa,
	"basec": 0xc,
	"basee": 0xe,
}

var sigIDs = map[string]uint8{
	"clk":           SigClk,
	"ctr":           SigCtr,
	"sda":           SigSDA,
	"tin":           SigTin,
	"deser160phase": SigDeser160Phase,
}

// Probe output signal selectors for the analog and digital scope
// connectors of the testboard.
var probeIDs = map[string]uint8{
	"off":    0,
	"clk":    1,
	"sda":    2,
	"ctr":    3,
	"tin":    4,
	"tout":   5,
	"pgtrg":  6,
	"pgcal":  7,
	"pgres":  8,
	"pgsync": 9,
}

// DACID resolves a DAC register name to its 8-bit identifier.
func DACID(name string) (uint8, error) {
	id, ok := dacIDs[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("dtb: unknown DAC register %q", name)
	}
	return id, nil
}

// TBMRegID resolves a TBM register name to its 8-bit identifier
// (without the core base).
func TBMRegID(name string) (uint8, error) {
	id, ok := tbmRegIDs[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("dtb: unknown TBM register %q", name)
	}
	return id, nil
}

// SigID resolves a testboard signal name to its identifier.
func SigID(name string) (uint8, error) {
	id, ok := sigIDs[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("dtb: unknown testboard signal %q", name)
	}
	return id, nil
}

// ProbeID resolves a probe output signal name to its selector value.
func ProbeID(name string) (uint8, error) {
	id, ok := probeIDs[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("dtb: unknown probe signal %q", name)
	}
	return id, nil
}
