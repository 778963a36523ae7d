// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decoder turns raw DAQ sample streams of the pixel testboard
// into decoded events.
//
// The raw stream of a DAQ channel is first cut into raw events by a
// Splitter, along the alignment markers of the configured envelope
// (bare DESER160, emulated TBM or DESER400 with a real TBM). A Decoder
// then walks the raw events, strips the TBM header and trailer, counts
// the ROC headers, decodes the pixel hits and keeps the running error
// statistics of the stream.
package decoder // import "github.com/cfangmeier/pxar/decoder"

import (
	"golang.org/x/xerrors"

	"github.com/cfangmeier/pxar/dtb"
)

// ErrInvalidXOR reports a DESER400 failure flagged in a ROC header.
var ErrInvalidXOR = xerrors.New("decoder: invalid XOR eye diagram")

// Event is one decoded readout cycle: the TBM envelope (when present)
// and the pixel hits of all ROCs of the token chain.
type Event struct {
	Header  uint16 // packed TBM header payload
	Trailer uint16 // packed TBM trailer payload

	Pixels []dtb.Pixel
}

// EventID returns the TBM event counter of this event.
func (evt Event) EventID() uint8 { return uint8(evt.Header >> 8) }

// Option configures a Decoder.
type Option func(*dconfig)

type dconfig struct {
	env      Envelope
	ch       uint8
	chain    int
	offset   int
	inverted bool
	readback bool
}

// WithEnvelope selects the framing of the decoded stream.
func WithEnvelope(env Envelope) Option {
	return func(cfg *dconfig) { cfg.env = env }
}

// WithChannel sets the DAQ channel id of the decoded stream.
func WithChannel(ch uint8) Option {
	return func(cfg *dconfig) { cfg.ch = ch }
}

// WithTokenChain sets the number of ROCs expected in every event of
// this channel.
func WithTokenChain(n int) Option {
	return func(cfg *dconfig) { cfg.chain = n }
}

// WithChainOffset sets the ROC id of the first ROC of this channel.
func WithChainOffset(n int) Option {
	return func(cfg *dconfig) { cfg.offset = n }
}

// WithInvertedAddress selects the flipped row addressing of the
// PSI46dig ROC flavor.
func WithInvertedAddress(inverted bool) Option {
	return func(cfg *dconfig) { cfg.inverted = inverted }
}

// WithReadback enables the evaluation of the readback bits carried in
// the ROC headers (PSI46digV2 and later).
func WithReadback(on bool) Option {
	return func(cfg *dconfig) { cfg.readback = on }
}

// Decoder decodes the raw events of one DAQ channel.
type Decoder struct {
	cfg   dconfig
	stats Statistics

	eventID int // expected TBM event counter, -1 before the first event

	shiftReg []uint16
	count    []int
	readback [][]uint16
	rbDirty  bool
}

// NewDecoder returns a decoder for one DAQ channel. By default it
// decodes a bare DESER160 stream with a token chain of one ROC.
func NewDecoder(opts ...Option) *Decoder {
	cfg := dconfig{chain: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Decoder{cfg: cfg, eventID: -1}
}

// Decode decodes one raw event. Errors are folded into the statistics
// of the stream; only an unusable transport (a DESER400 failure) stops
// the decoding with an error.
func (dec *Decoder) Decode(sample *RawEvent) (Event, error) {
	var evt Event

	if sample.StartError() {
		dec.stats.ErrEventStart++
	}
	if sample.EndError() {
		dec.stats.ErrEventStop++
	}
	if sample.Overflow() {
		dec.stats.ErrEventOverflow++
	}
	dec.stats.WordsRead += uint64(len(sample.Data))

	data := sample.Data
	if dec.cfg.env.tbm() {
		data = dec.processTBM(&evt, data)
	}

	var err error
	if dec.cfg.env.deser400() {
		err = dec.decodeDeser400(&evt, data)
	} else {
		dec.decodeDeser160(&evt, data)
	}
	if err != nil {
		return evt, err
	}
	return evt, nil
}

// Statistics returns the accumulated decoding statistics and clears
// them.
func (dec *Decoder) Statistics() Statistics {
	stats := dec.stats
	dec.stats = Statistics{}
	return stats
}

// Readback returns the readback values collected per ROC and clears
// them.
func (dec *Decoder) Readback() [][]uint16 {
	rb := dec.readback
	dec.readback = nil
	return rb
}

// processTBM checks and strips the two TBM header words and the two
// trailer words framing the event content.
func (dec *Decoder) processTBM(evt *Event, data []uint16) []uint16 {
	if len(data) < 4 {
		dec.stats.ErrTBMHeader++
		dec.stats.ErrTBMTrailer++
		return data
	}

	dec.checkWord(data[0])
	dec.checkWord(data[1])
	if data[0]&0xe000 != 0xa000 || data[1]&0xe000 != 0x8000 {
		dec.stats.ErrTBMHeader++
	}
	evt.Header = (data[0]&0x00ff)<<8 | data[1]&0x00ff

	dec.checkEventID(evt)

	n := len(data)
	dec.checkWord(data[n-2])
	dec.checkWord(data[n-1])
	if data[n-2]&0xe000 != 0xe000 || data[n-1]&0xe000 != 0xc000 {
		dec.stats.ErrTBMTrailer++
	}
	evt.Trailer = (data[n-2]&0x00ff)<<8 | data[n-1]&0x00ff

	return data[2 : n-2]
}

// checkEventID verifies that the TBM event counter increments by one
// (mod 256) between consecutive events of the channel.
func (dec *Decoder) checkEventID(evt *Event) {
	id := int(evt.EventID())
	if dec.eventID == -1 {
		dec.eventID = id
	}
	if id != dec.eventID%256 {
		dec.stats.ErrTBMEventIDMismatch++
		// Resynchronize on the decoded counter to keep going.
		dec.eventID = id
	}
	dec.eventID = dec.eventID%256 + 1
}

// checkWord verifies the spare bit of the identifier nibble.
func (dec *Decoder) checkWord(w uint16) {
	if w&0x1000 != 0 {
		dec.stats.ErrEventInvalidWords++
	}
}

// decodeDeser400 decodes the event content of a DESER400 stream: ROC
// headers flagged with 0x4000, pixel hits split over two 12-bit words.
func (dec *Decoder) decodeDeser400(evt *Event, data []uint16) error {
	rocN := -1

	for i := 0; i < len(data); i++ {
		w := data[i]
		dec.checkWord(w)

		switch {
		case w&0xe000 == 0x4000:
			// ROC header.
			rocN++
			if w&0x0ff0 == 0x0ff0 {
				dec.stats.ErrEventInvalidXOR++
				return xerrors.Errorf("decoder: channel %d ROC %d header reports DESER400 failure: %w",
					dec.cfg.ch, rocN, ErrInvalidXOR)
			}
			if dec.cfg.readback {
				dec.evalReadback(rocN, w)
			}

		case w&0xe000 <= 0x2000:
			// Pixel hit, two words.
			if len(data)-i < 2 || w&0x8000 != 0 {
				dec.stats.ErrPixelIncomplete++
				dec.checkValidity(evt, rocN)
				return nil
			}
			raw := uint32(w&0x0fff)<<12 | uint32(data[i+1]&0x0fff)
			i++

			// Fill hits pad the idle token chains of TBM09 streams.
			if dec.cfg.env >= EnvTBM09 && raw&0xffffff == 0xffffff {
				continue
			}
			dec.addPixel(evt, raw, rocN)
		}
	}

	dec.checkValidity(evt, rocN)
	return nil
}

// decodeDeser160 decodes the event content of a DESER160 stream: ROC
// headers match 0x7f8 in the data bits, pixel hits follow as 12-bit
// word pairs.
func (dec *Decoder) decodeDeser160(evt *Event, data []uint16) {
	rocN := -1

	for i := 0; i < len(data); i++ {
		w := data[i]

		switch {
		case w&0x0ffc == 0x07f8:
			rocN++
			if dec.cfg.readback {
				dec.evalReadback(rocN, w&0x0fff)
			}

		case rocN >= 0:
			if len(data)-i < 2 {
				dec.stats.ErrPixelIncomplete++
				continue
			}
			raw := uint32(w&0x0fff)<<12 | uint32(data[i+1]&0x0fff)
			i++
			dec.addPixel(evt, raw, rocN)
		}
	}

	dec.checkValidity(evt, rocN)
}

// addPixel decodes one raw hit word and sorts decode failures into the
// statistics.
func (dec *Decoder) addPixel(evt *Event, raw uint32, rocN int) {
	roc := uint8(rocN + dec.cfg.offset)
	pix, err := dtb.DecodePixel(raw, roc, dec.cfg.inverted)
	switch {
	case err == nil:
		evt.Pixels = append(evt.Pixels, pix)
		dec.stats.PixelsValid++
	case xerrors.Is(err, dtb.ErrInvalidAddress):
		dec.stats.ErrPixelAddress++
	case xerrors.Is(err, dtb.ErrInvalidPulseHeight):
		dec.stats.ErrPixelPulseHeight++
	case xerrors.Is(err, dtb.ErrCorruptBuffer):
		dec.stats.ErrPixelBufferCorrupt++
	}
}

// checkValidity verifies that the event carries all ROC headers of the
// token chain. Events with missing ROCs are cleared: their hits cannot
// be attributed to chips reliably.
func (dec *Decoder) checkValidity(evt *Event, rocN int) {
	switch {
	case rocN+1 != dec.cfg.chain:
		dec.stats.ErrROCMissing++
		// The readback cycle of the missing ROC is broken too.
		dec.rbDirty = true
		evt.Pixels = nil
	case len(evt.Pixels) == 0:
		dec.stats.EventsEmpty++
	default:
		dec.stats.EventsValid++
	}
}

// evalReadback shifts the readback bit of a ROC header into the
// per-ROC shift register. A start marker closes a cycle of 16 bits
// and stores the collected value.
func (dec *Decoder) evalReadback(rocN int, w uint16) {
	for len(dec.shiftReg) <= rocN {
		dec.shiftReg = append(dec.shiftReg, 0)
		dec.count = append(dec.count, 0)
	}
	dec.shiftReg[rocN] <<= 1
	if w&1 != 0 {
		dec.shiftReg[rocN]++
	}
	dec.count[rocN]++

	if w&2 == 0 {
		return
	}

	// Start marker: a complete cycle holds 16 bits.
	if dec.count[rocN] == 16 {
		for len(dec.readback) <= rocN {
			dec.readback = append(dec.readback, nil)
		}
		dec.readback[rocN] = append(dec.readback[rocN], dec.shiftReg[rocN])
	} else {
		// The first marker after startup or after a broken event
		// legitimately closes a short cycle.
		if len(dec.readback) <= rocN || len(dec.readback[rocN]) == 0 || dec.rbDirty {
			dec.rbDirty = false
		} else {
			dec.stats.ErrROCReadback++
		}
	}
	dec.count[rocN] = 0
}
