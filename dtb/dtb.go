// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dtb provides the hardware abstraction layer for the pixel
// detector testboard (DTB).
//
// The DTB itself is driven through the Testboard interface, the remote
// boundary implemented by the RPC/USB client. Package dtb sequences
// calls into that boundary, applies the domain encodings (voltage
// scaling, pixel addressing, DAC identifiers) and ferries back the
// acquired sample data.
package dtb // import "github.com/cfangmeier/pxar/dtb"

import (
	"errors"
	"fmt"
)

// ROC geometry.
const (
	NumCols = 52 // columns per readout chip
	NumRows = 80 // rows per readout chip
	NumROCs = 16 // readout chips per module
)

// Calibration flags.
const (
	// FlagEfficiency requests the number of readouts seen per pixel
	// instead of the accumulated pulse-height sum.
	FlagEfficiency = 1 << iota
	// FlagCals routes the calibrate pulse through the sensor pad.
	FlagCals
)

var (
	ErrInvalidAddress     = errors.New("dtb: invalid pixel address")
	ErrInvalidPulseHeight = errors.New("dtb: invalid pulse-height fill bit")
	ErrCorruptBuffer      = errors.New("dtb: corrupt data buffer (row 80)")
)

// Pixel is a single pixel sample produced by a calibration routine or
// decoded from a DAQ event. Value holds either an efficiency count or
// a pulse-height sum, depending on the flags of the producing routine.
type Pixel struct {
	Col   uint8
	Row   uint8
	ROC   uint8
	Value int32
}

func (pix Pixel) String() string {
	return fmt.Sprintf("pix{roc: %d, col: %d, row: %d, val: %d}", pix.ROC, pix.Col, pix.Row, pix.Value)
}

// DecodePixel decodes the 24-bit raw hit word of a digital ROC into a
// pixel sample. The address is transmitted in pseudo base-6 digits:
// two for the double column, three for the row pair. ROCs with
// inverted row addressing (PSI46dig) flip the highest row digit.
func DecodePixel(raw uint32, roc uint8, inverted bool) (Pixel, error) {
	pix := Pixel{ROC: roc}

	// Pulse height straddles the fill bit at position 4.
	pix.Value = int32((raw & 0x0f) + ((raw >> 1) & 0xf0))
	if raw&0x10 != 0 {
		return pix, fmt.Errorf("dtb: could not decode raw word 0x%06x: %w", raw, ErrInvalidPulseHeight)
	}

	r2 := int((raw >> 15) & 7)
	if inverted {
		r2 ^= 0x7
	}
	r1 := int((raw >> 12) & 7)
	r0 := int((raw >> 9) & 7)
	c1 := int((raw >> 21) & 7)
	c0 := int((raw >> 18) & 7)

	if r2 > 5 || r1 > 5 || r0 > 5 || c1 > 5 || c0 > 5 {
		return pix, fmt.Errorf("dtb: could not decode raw word 0x%06x: %w", raw, ErrInvalidAddress)
	}

	r := r2*36 + r1*6 + r0
	c := c1*6 + c0

	row := NumRows - r/2
	col := 2*c + (r & 1)

	switch {
	case row == NumRows:
		return pix, fmt.Errorf("dtb: could not decode raw word 0x%06x: %w", raw, ErrCorruptBuffer)
	case row < 0 || row > NumRows || col >= NumCols:
		return pix, fmt.Errorf("dtb: could not decode raw word 0x%06x: %w", raw, ErrInvalidAddress)
	}

	pix.Row = uint8(row)
	pix.Col = uint8(col)
	return pix, nil
}

// EncodePixel is the inverse of DecodePixel. It is used by the
// testboard simulator and by tests to synthesize raw hit words.
func EncodePixel(pix Pixel, inverted bool) uint32 {
	var (
		ph = uint32(pix.Value)

		r = 2*(NumRows-int(pix.Row)) + int(pix.Col&1)
		c = (int(pix.Col) - (r & 1)) / 2

		r2 = uint32(r / 36)
		r1 = uint32(r / 6 % 6)
		r0 = uint32(r % 6)
		c1 = uint32(c / 6)
		c0 = uint32(c % 6)
	)
	if inverted {
		r2 ^= 0x7
	}

	raw := c1<<21 | c0<<18 | r2<<15 | r1<<12 | r0<<9
	raw |= (ph & 0xf0) << 1
	raw |= ph & 0x0f
	return raw
}

// pixelFromAddr builds a pixel sample from the packed map address
// returned by the testboard CalibrateMap RPC: ROC id in bits 16-23,
// column in bits 8-15, row in bits 0-7.
func pixelFromAddr(addr uint32, value int32) Pixel {
	return Pixel{
		ROC:   uint8(addr >> 16),
		Col:   uint8(addr >> 8),
		Row:   uint8(addr),
		Value: value,
	}
}
