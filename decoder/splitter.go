// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"io"
)

// maxEventSize caps the number of words collected into one raw event.
// Longer events are truncated and flagged as overflows.
const maxEventSize = 40000

// Envelope describes how events are framed in the raw data stream.
type Envelope uint8

const (
	// EnvNone frames events with the DESER160 start and end markers,
	// without a TBM.
	EnvNone Envelope = iota
	// EnvSoft frames DESER160 events in headers and trailers of the
	// software TBM emulator.
	EnvSoft
	// TBM envelopes frame events with the DESER400 markers. The
	// flavors differ in the number of token chains per readout
	// channel.
	EnvTBM08
	EnvTBM09
	EnvTBM10
)

// tbm reports whether the envelope carries a TBM header and trailer.
func (env Envelope) tbm() bool { return env != EnvNone }

// deser400 reports whether the event content uses the DESER400 word
// encoding.
func (env Envelope) deser400() bool { return env > EnvSoft }

// Source is a stream of raw 16-bit sample words, as drained from a
// DAQ channel. Next returns io.EOF once the stream is exhausted.
type Source interface {
	Next() (uint16, error)
}

// Words is an in-memory Source.
type Words []uint16

func (w *Words) Next() (uint16, error) {
	if len(*w) == 0 {
		return 0, io.EOF
	}
	v := (*w)[0]
	*w = (*w)[1:]
	return v, nil
}

// RawEvent is one frame of raw sample words cut out of the DAQ stream,
// together with the framing defects seen while splitting.
type RawEvent struct {
	Data []uint16

	startErr bool
	endErr   bool
	overflow bool
}

func (ev *RawEvent) StartError() bool { return ev.startErr }
func (ev *RawEvent) EndError() bool   { return ev.endErr }
func (ev *RawEvent) Overflow() bool   { return ev.overflow }

func (ev *RawEvent) add(w uint16) {
	if len(ev.Data) < maxEventSize {
		ev.Data = append(ev.Data, w)
		return
	}
	ev.overflow = true
}

// Splitter cuts a raw sample stream into events along the alignment
// markers of the configured envelope.
type Splitter struct {
	src Source
	env Envelope
	ch  uint8

	last      uint16
	primed    bool
	nextStart bool
	done      bool
}

// NewSplitter returns a splitter cutting src along the markers of env.
// The channel id ch is attached to the TBM header words of DESER400
// streams.
func NewSplitter(src Source, env Envelope, ch uint8) *Splitter {
	return &Splitter{src: src, env: env, ch: ch}
}

func (sp *Splitter) get() (uint16, error) {
	w, err := sp.src.Next()
	if err != nil {
		return 0, err
	}
	sp.last = w
	sp.primed = true
	return w, nil
}

// Next returns the next raw event of the stream, or io.EOF once the
// stream is exhausted.
func (sp *Splitter) Next() (*RawEvent, error) {
	if sp.done {
		return nil, io.EOF
	}
	switch {
	case sp.env == EnvNone:
		return sp.splitDeser160()
	case sp.env == EnvSoft:
		return sp.splitTBM(true)
	default:
		return sp.splitTBM(false)
	}
}

// splitDeser160 cuts along the DESER160 markers: bit 15 flags the
// event start, bit 14 the event end.
func (sp *Splitter) splitDeser160() (*RawEvent, error) {
	ev := new(RawEvent)

	// A fresh sample unless the previous event left one behind.
	if !sp.primed || sp.last&0x4000 != 0 {
		if _, err := sp.get(); err != nil {
			sp.done = true
			return nil, io.EOF
		}
	}

	// Scan forward to the start marker.
	if sp.last&0x8000 == 0 {
		ev.startErr = true
		for sp.last&0x8000 == 0 {
			if _, err := sp.get(); err != nil {
				sp.done = true
				return nil, io.EOF
			}
		}
	}

	for {
		// A word carrying both markers is an empty event.
		if sp.last&0xc000 == 0xc000 {
			break
		}
		ev.add(sp.last)

		w, err := sp.get()
		if err != nil {
			sp.done = true
			ev.endErr = true
			return ev, nil
		}
		if w&0xc000 != 0 {
			break
		}
	}

	if sp.last&0x4000 != 0 {
		ev.add(sp.last)
	} else {
		ev.endErr = true
	}
	return ev, nil
}

// splitTBM cuts along the TBM envelope markers: 0xa000 opens an event
// and the trailer word closes it. The real DESER400 trailer matches
// on 0xc000 in the top three bits; the emulated one needs the full
// 0xc0 nibble pair since 0xc000 is also a DESER160 end marker.
func (sp *Splitter) splitTBM(soft bool) (*RawEvent, error) {
	ev := new(RawEvent)

	trailerMask, trailer := uint16(0xe000), uint16(0xc000)
	if soft {
		trailerMask = 0xef00
	}

	if !sp.nextStart {
		if _, err := sp.get(); err != nil {
			sp.done = true
			return nil, io.EOF
		}
	}

	if sp.last&0xe000 != 0xa000 {
		ev.startErr = true
		if _, err := sp.get(); err != nil {
			sp.done = true
			return nil, io.EOF
		}
	}
	if soft {
		ev.add(sp.last)
	} else {
		// Attach the channel id in unused TBM header bits.
		ev.add(sp.last | uint16(sp.ch&0x7)<<8)
	}

	for {
		w, err := sp.get()
		if err != nil {
			sp.done = true
			ev.endErr = true
			return ev, nil
		}
		if w&trailerMask == trailer {
			break
		}
		// A new start marker means the trailer went missing.
		if w&0xe000 == 0xa000 {
			ev.endErr = true
			sp.nextStart = true
			return ev, nil
		}
		ev.add(w)
	}
	ev.add(sp.last)
	sp.nextStart = false
	return ev, nil
}
