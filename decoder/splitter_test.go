// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"io"
	"reflect"
	"testing"
)

func TestSplitDeser160(t *testing.T) {
	src := Words{
		// two events, two pixel words each
		0x87f8, 0x0123, 0x4456,
		0x87f8, 0x0321, 0x4654,
		// empty event: start and end marker on one word
		0xc7f8,
	}
	sp := NewSplitter(&src, EnvNone, 0)

	ev, err := sp.Next()
	if err != nil {
		t.Fatalf("could not split event 0: %+v", err)
	}
	if got, want := ev.Data, []uint16{0x87f8, 0x0123, 0x4456}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid event 0 data:\ngot= %04x\nwant=%04x", got, want)
	}
	if ev.StartError() || ev.EndError() || ev.Overflow() {
		t.Fatalf("unexpected framing defects in event 0")
	}

	ev, err = sp.Next()
	if err != nil {
		t.Fatalf("could not split event 1: %+v", err)
	}
	if got, want := ev.Data, []uint16{0x87f8, 0x0321, 0x4654}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid event 1 data:\ngot= %04x\nwant=%04x", got, want)
	}

	// The empty event carries only its marker word.
	ev, err = sp.Next()
	if err != nil {
		t.Fatalf("could not split event 2: %+v", err)
	}
	if got, want := ev.Data, []uint16{0xc7f8}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid empty event data:\ngot= %04x\nwant=%04x", got, want)
	}

	_, err = sp.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %+v", err)
	}
}

func TestSplitDeser160StartError(t *testing.T) {
	src := Words{
		// garbage before the first start marker
		0x0123, 0x0456,
		0x87f8, 0x0123, 0x4456,
	}
	sp := NewSplitter(&src, EnvNone, 0)

	ev, err := sp.Next()
	if err != nil {
		t.Fatalf("could not split event: %+v", err)
	}
	if !ev.StartError() {
		t.Fatalf("missing start error")
	}
	if got, want := ev.Data, []uint16{0x87f8, 0x0123, 0x4456}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid event data:\ngot= %04x\nwant=%04x", got, want)
	}
}

func TestSplitDeser160EndError(t *testing.T) {
	src := Words{
		// stream ends before the end marker
		0x87f8, 0x0123,
	}
	sp := NewSplitter(&src, EnvNone, 0)

	ev, err := sp.Next()
	if err != nil {
		t.Fatalf("could not split event: %+v", err)
	}
	if !ev.EndError() {
		t.Fatalf("missing end error")
	}

	_, err = sp.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %+v", err)
	}
}

func TestSplitDeser400(t *testing.T) {
	src := Words{
		0xa000, 0x8000, // TBM header
		0x4000,         // ROC header
		0x0123, 0x2456, // pixel hit
		0xe000, 0xc000, // TBM trailer
		0xa001, 0x8000,
		0x4000,
		0xe000, 0xc000,
	}
	sp := NewSplitter(&src, EnvTBM08, 1)

	ev, err := sp.Next()
	if err != nil {
		t.Fatalf("could not split event 0: %+v", err)
	}
	want := []uint16{0xa100, 0x8000, 0x4000, 0x0123, 0x2456, 0xe000, 0xc000}
	if got := ev.Data; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid event 0 data:\ngot= %04x\nwant=%04x", got, want)
	}

	ev, err = sp.Next()
	if err != nil {
		t.Fatalf("could not split event 1: %+v", err)
	}
	if got, want := len(ev.Data), 5; got != want {
		t.Fatalf("invalid event 1 size: got=%d, want=%d", got, want)
	}

	_, err = sp.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %+v", err)
	}
}

func TestSplitDeser400MissingTrailer(t *testing.T) {
	src := Words{
		0xa000, 0x8000, 0x4000,
		// next event starts without a trailer in between
		0xa001, 0x8000, 0x4000, 0xe000, 0xc000,
	}
	sp := NewSplitter(&src, EnvTBM08, 0)

	ev, err := sp.Next()
	if err != nil {
		t.Fatalf("could not split event 0: %+v", err)
	}
	if !ev.EndError() {
		t.Fatalf("missing end error on event 0")
	}

	ev, err = sp.Next()
	if err != nil {
		t.Fatalf("could not split event 1: %+v", err)
	}
	if ev.StartError() || ev.EndError() {
		t.Fatalf("unexpected framing defects in event 1")
	}
	if got, want := len(ev.Data), 5; got != want {
		t.Fatalf("invalid event 1 size: got=%d, want=%d", got, want)
	}
}

func TestSplitSoftTBM(t *testing.T) {
	src := Words{
		0xa000, 0x8000,
		// DESER160 payload: the 0x4000-flagged end marker must not
		// terminate the emulated envelope.
		0x87f8, 0x0123, 0x4456,
		0xe000, 0xc000,
	}
	sp := NewSplitter(&src, EnvSoft, 0)

	ev, err := sp.Next()
	if err != nil {
		t.Fatalf("could not split event: %+v", err)
	}
	want := []uint16{0xa000, 0x8000, 0x87f8, 0x0123, 0x4456, 0xe000, 0xc000}
	if got := ev.Data; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid event data:\ngot= %04x\nwant=%04x", got, want)
	}
}
