// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"fmt"
	"strings"
)

// Statistics accumulates the bookkeeping of a decoding run: the
// amount of data seen and the error states encountered, grouped by
// the layer that produced them.
type Statistics struct {
	// Static information of the decoded stream.
	WordsRead   uint64 // 16-bit sample words read
	PixelsValid uint64 // successfully decoded pixel hits
	EventsEmpty uint64 // events with all ROC headers but no hits
	EventsValid uint64 // events with all ROC headers and hits

	// Event-level framing errors.
	ErrEventStart        uint64 // missing event start marker
	ErrEventStop         uint64 // missing event end marker
	ErrEventOverflow     uint64 // event exceeded the size cap
	ErrEventInvalidWords uint64 // flipped identifier bit in a data word
	ErrEventInvalidXOR   uint64 // DESER400 XOR eye diagram failure

	// TBM-level errors.
	ErrTBMHeader          uint64 // malformed TBM header
	ErrTBMTrailer         uint64 // malformed TBM trailer
	ErrTBMEventIDMismatch uint64 // event counter out of sequence

	// ROC-level errors.
	ErrROCMissing  uint64 // fewer ROC headers than token chain length
	ErrROCReadback uint64 // interrupted readback shift cycle

	// Pixel-level errors.
	ErrPixelIncomplete    uint64 // event ended inside a pixel hit
	ErrPixelAddress       uint64 // invalid pixel address
	ErrPixelPulseHeight   uint64 // invalid pulse-height fill bit
	ErrPixelBufferCorrupt uint64 // pixel decoded to row 80
}

// ErrorsEvent returns the total number of event framing errors.
func (st Statistics) ErrorsEvent() uint64 {
	return st.ErrEventStart + st.ErrEventStop + st.ErrEventOverflow +
		st.ErrEventInvalidWords + st.ErrEventInvalidXOR
}

// ErrorsTBM returns the total number of TBM errors.
func (st Statistics) ErrorsTBM() uint64 {
	return st.ErrTBMHeader + st.ErrTBMTrailer + st.ErrTBMEventIDMismatch
}

// ErrorsROC returns the total number of ROC errors.
func (st Statistics) ErrorsROC() uint64 {
	return st.ErrROCMissing + st.ErrROCReadback
}

// ErrorsPixel returns the total number of pixel decoding errors.
func (st Statistics) ErrorsPixel() uint64 {
	return st.ErrPixelIncomplete + st.ErrPixelAddress +
		st.ErrPixelPulseHeight + st.ErrPixelBufferCorrupt
}

// Errors returns the total number of errors of all layers.
func (st Statistics) Errors() uint64 {
	return st.ErrorsEvent() + st.ErrorsTBM() + st.ErrorsROC() + st.ErrorsPixel()
}

// Add accumulates the statistics of another decoding run.
func (st *Statistics) Add(o Statistics) {
	st.WordsRead += o.WordsRead
	st.PixelsValid += o.PixelsValid
	st.EventsEmpty += o.EventsEmpty
	st.EventsValid += o.EventsValid

	st.ErrEventStart += o.ErrEventStart
	st.ErrEventStop += o.ErrEventStop
	st.ErrEventOverflow += o.ErrEventOverflow
	st.ErrEventInvalidWords += o.ErrEventInvalidWords
	st.ErrEventInvalidXOR += o.ErrEventInvalidXOR

	st.ErrTBMHeader += o.ErrTBMHeader
	st.ErrTBMTrailer += o.ErrTBMTrailer
	st.ErrTBMEventIDMismatch += o.ErrTBMEventIDMismatch

	st.ErrROCMissing += o.ErrROCMissing
	st.ErrROCReadback += o.ErrROCReadback

	st.ErrPixelIncomplete += o.ErrPixelIncomplete
	st.ErrPixelAddress += o.ErrPixelAddress
	st.ErrPixelPulseHeight += o.ErrPixelPulseHeight
	st.ErrPixelBufferCorrupt += o.ErrPixelBufferCorrupt
}

func (st Statistics) String() string {
	o := new(strings.Builder)
	fmt.Fprintf(o, "data processing statistics:\n")
	fmt.Fprintf(o, "  words read:          %d\n", st.WordsRead)
	fmt.Fprintf(o, "  valid events:        %d\n", st.EventsValid)
	fmt.Fprintf(o, "  empty events:        %d\n", st.EventsEmpty)
	fmt.Fprintf(o, "  valid pixels:        %d\n", st.PixelsValid)
	fmt.Fprintf(o, "  errors event:        %d\n", st.ErrorsEvent())
	fmt.Fprintf(o, "    start:             %d\n", st.ErrEventStart)
	fmt.Fprintf(o, "    stop:              %d\n", st.ErrEventStop)
	fmt.Fprintf(o, "    overflow:          %d\n", st.ErrEventOverflow)
	fmt.Fprintf(o, "    invalid words:     %d\n", st.ErrEventInvalidWords)
	fmt.Fprintf(o, "    invalid XOR:       %d\n", st.ErrEventInvalidXOR)
	fmt.Fprintf(o, "  errors TBM:          %d\n", st.ErrorsTBM())
	fmt.Fprintf(o, "    header:            %d\n", st.ErrTBMHeader)
	fmt.Fprintf(o, "    trailer:           %d\n", st.ErrTBMTrailer)
	fmt.Fprintf(o, "    event id mismatch: %d\n", st.ErrTBMEventIDMismatch)
	fmt.Fprintf(o, "  errors ROC:          %d\n", st.ErrorsROC())
	fmt.Fprintf(o, "    missing:           %d\n", st.ErrROCMissing)
	fmt.Fprintf(o, "    readback:          %d\n", st.ErrROCReadback)
	fmt.Fprintf(o, "  errors pixel:        %d\n", st.ErrorsPixel())
	fmt.Fprintf(o, "    incomplete:        %d\n", st.ErrPixelIncomplete)
	fmt.Fprintf(o, "    address:           %d\n", st.ErrPixelAddress)
	fmt.Fprintf(o, "    pulse height:      %d\n", st.ErrPixelPulseHeight)
	fmt.Fprintf(o, "    buffer corrupt:    %d", st.ErrPixelBufferCorrupt)
	return o.String()
}
