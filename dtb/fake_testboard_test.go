// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
	"io"
	"log"
	"testing"
)

// fakeTB wraps the simulator and records the order of the calls the
// HAL issues against the testboard boundary.
type fakeTB struct {
	*Simulator
	calls []string
	errs  map[string]error
}

func newFakeTB() *fakeTB {
	return &fakeTB{
		Simulator: NewSimulator(""),
		errs:      make(map[string]error),
	}
}

func (tb *fakeTB) record(call string) error {
	tb.calls = append(tb.calls, call)
	for name, err := range tb.errs {
		if name == call || name == callName(call) {
			return err
		}
	}
	return nil
}

func callName(call string) string {
	for i := 0; i < len(call); i++ {
		if call[i] == '(' {
			return call[:i]
		}
	}
	return call
}

func (tb *fakeTB) Flush() error {
	if err := tb.record("Flush"); err != nil {
		return err
	}
	return tb.Simulator.Flush()
}

func (tb *fakeTB) Welcome() error {
	if err := tb.record("Welcome"); err != nil {
		return err
	}
	return tb.Simulator.Welcome()
}

func (tb *fakeTB) SigSetDelay(sig, value uint8) error {
	if err := tb.record(fmt.Sprintf("SigSetDelay(%d,%d)", sig, value)); err != nil {
		return err
	}
	return tb.Simulator.SigSetDelay(sig, value)
}

func (tb *fakeTB) SigSetLevel(sig, level uint8) error {
	if err := tb.record(fmt.Sprintf("SigSetLevel(%d,%d)", sig, level)); err != nil {
		return err
	}
	return tb.Simulator.SigSetLevel(sig, level)
}

func (tb *fakeTB) PgSetCmd(addr uint8, cmd uint16) error {
	if err := tb.record(fmt.Sprintf("PgSetCmd(%d,0x%04x)", addr, cmd)); err != nil {
		return err
	}
	return tb.Simulator.PgSetCmd(addr, cmd)
}

func (tb *fakeTB) PgSingle() error {
	if err := tb.record("PgSingle"); err != nil {
		return err
	}
	return tb.Simulator.PgSingle()
}

func (tb *fakeTB) RocI2CAddr(roc uint8) error {
	if err := tb.record(fmt.Sprintf("RocI2CAddr(%d)", roc)); err != nil {
		return err
	}
	return tb.Simulator.RocI2CAddr(roc)
}

func (tb *fakeTB) RocSetDAC(dac, value uint8) error {
	if err := tb.record(fmt.Sprintf("RocSetDAC(0x%02x,%d)", dac, value)); err != nil {
		return err
	}
	return tb.Simulator.RocSetDAC(dac, value)
}

func (tb *fakeTB) TbmEnable(on bool) error {
	if err := tb.record(fmt.Sprintf("TbmEnable(%v)", on)); err != nil {
		return err
	}
	return tb.Simulator.TbmEnable(on)
}

func (tb *fakeTB) ModAddr(hub uint8) error {
	if err := tb.record(fmt.Sprintf("ModAddr(%d)", hub)); err != nil {
		return err
	}
	return tb.Simulator.ModAddr(hub)
}

func (tb *fakeTB) TbmSet(reg, value uint8) error {
	if err := tb.record(fmt.Sprintf("TbmSet(0x%02x,0x%02x)", reg, value)); err != nil {
		return err
	}
	return tb.Simulator.TbmSet(reg, value)
}

func (tb *fakeTB) DaqOpen(size uint32, ch uint8) (uint32, error) {
	if err := tb.record(fmt.Sprintf("DaqOpen(%d,%d)", size, ch)); err != nil {
		return 0, err
	}
	return tb.Simulator.DaqOpen(size, ch)
}

func (tb *fakeTB) DaqStart(ch uint8) error {
	if err := tb.record(fmt.Sprintf("DaqStart(%d)", ch)); err != nil {
		return err
	}
	return tb.Simulator.DaqStart(ch)
}

func (tb *fakeTB) DaqStop(ch uint8) error {
	if err := tb.record(fmt.Sprintf("DaqStop(%d)", ch)); err != nil {
		return err
	}
	return tb.Simulator.DaqStop(ch)
}

func (tb *fakeTB) DaqClose(ch uint8) error {
	if err := tb.record(fmt.Sprintf("DaqClose(%d)", ch)); err != nil {
		return err
	}
	return tb.Simulator.DaqClose(ch)
}

func (tb *fakeTB) DaqSelectDeser160(phase uint8) error {
	if err := tb.record(fmt.Sprintf("DaqSelectDeser160(%d)", phase)); err != nil {
		return err
	}
	return tb.Simulator.DaqSelectDeser160(phase)
}

func (tb *fakeTB) DaqSelectDeser400() error {
	if err := tb.record("DaqSelectDeser400"); err != nil {
		return err
	}
	return tb.Simulator.DaqSelectDeser400()
}

func (tb *fakeTB) UDelay(us uint16) error {
	if err := tb.record(fmt.Sprintf("UDelay(%d)", us)); err != nil {
		return err
	}
	return tb.Simulator.UDelay(us)
}

// enumTB simulates a USB bus with an arbitrary set of attached
// devices.
type enumTB struct {
	*Simulator
	devs []string
	idx  int
}

func (tb *enumTB) EnumFirst() (int, error) {
	tb.idx = 0
	return len(tb.devs), nil
}

func (tb *enumTB) EnumNext() (string, error) {
	if tb.idx >= len(tb.devs) {
		return "", fmt.Errorf("dtb: no more devices")
	}
	dev := tb.devs[tb.idx]
	tb.idx++
	return dev, nil
}

func (tb *enumTB) Open(name string) error { return nil }

func newTestHAL(t *testing.T, tb Testboard) *HAL {
	t.Helper()
	hal, err := New(tb, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not create HAL: %+v", err)
	}
	return hal
}
