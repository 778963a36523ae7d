// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
	"sync"
)

// Simulator is an in-memory testboard, useful to exercise the HAL,
// the decoder and the commands without hardware attached.
//
// It honors the register-level protocol of the real board: chips are
// addressed through RocI2CAddr, pattern-generator triggers synthesize
// deser160 events for the armed pixels, and the firmware calibration
// loops run over the simulated pixel matrix.
type Simulator struct {
	mu   sync.Mutex
	name string
	open bool
	enum int

	va, vd uint16 // mV
	ia, id uint16 // 100 uA
	hv     bool
	pwr    bool

	delays map[uint8]uint8
	phase  uint8
	des400 bool

	pg  []uint16
	roc uint8 // chip selected by RocI2CAddr

	dacs   [NumROCs]map[uint8]uint8
	masked [NumROCs][NumCols * NumRows]bool
	cals   [NumROCs][NumCols * NumRows]bool
	cols   [NumROCs][NumCols]bool

	tbmOn   bool
	hub     uint8
	tbmRegs map[uint8]uint8

	daq [2]simChannel

	upStarted bool
	upRecords int
}

type simChannel struct {
	open    bool
	running bool
	buf     []uint16
}

// NewSimulator creates a simulated testboard enumerating as name
// (DTB_SIM1 when empty).
func NewSimulator(name string) *Simulator {
	if name == "" {
		name = "DTB_SIM1"
	}
	sim := &Simulator{
		name:    name,
		delays:  make(map[uint8]uint8),
		tbmRegs: make(map[uint8]uint8),
	}
	for i := range sim.dacs {
		sim.dacs[i] = make(map[uint8]uint8)
	}
	return sim
}

var simRPCCalls = []string{
	"GetRpcVersion$i",
	"GetRpcCallId$i$s",
	"Welcome$v",
	"Flush$v",
	"GetInfo$s",
	"GetBoardId$i",
	"Pon$v",
	"Poff$v",
	"HVon$v",
	"HVoff$v",
	"Daq_Open$iIc",
	"Daq_Close$vc",
	"Daq_Start$vc",
	"Daq_Stop$vc",
	"Daq_Read$vCIc",
}

func (sim *Simulator) EnumFirst() (int, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.enum = 0
	return 1, nil
}

func (sim *Simulator) EnumNext() (string, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if sim.enum > 0 {
		return "", fmt.Errorf("dtb: no more devices")
	}
	sim.enum++
	return sim.name, nil
}

func (sim *Simulator) Open(name string) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if name != sim.name {
		return fmt.Errorf("dtb: no simulated device %q", name)
	}
	sim.open = true
	return nil
}

func (sim *Simulator) Close() error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.open = false
	return nil
}

func (sim *Simulator) Init() error    { return nil }
func (sim *Simulator) Welcome() error { return nil }
func (sim *Simulator) Flush() error   { return nil }

func (sim *Simulator) GetInfo() (string, error) {
	return "pxar DTB simulator\n", nil
}

func (sim *Simulator) BoardID() (uint32, error) { return 42, nil }

func (sim *Simulator) HostRPCCallNames() []string { return simRPCCalls }

func (sim *Simulator) RPCCallCount() (int, error) {
	return len(simRPCCalls), nil
}

func (sim *Simulator) RPCCallName(id int) (string, error) {
	if id < 0 || id >= len(simRPCCalls) {
		return "", fmt.Errorf("dtb: invalid RPC call id %d", id)
	}
	return simRPCCalls[id], nil
}

func (sim *Simulator) SetVA(mv uint16) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.va = mv
	return nil
}

func (sim *Simulator) SetVD(mv uint16) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.vd = mv
	return nil
}

func (sim *Simulator) SetIA(ua100 uint16) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.ia = ua100
	return nil
}

func (sim *Simulator) SetID(ua100 uint16) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.id = ua100
	return nil
}

func (sim *Simulator) GetVA() (uint16, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if !sim.pwr {
		return 0, nil
	}
	return sim.va, nil
}

func (sim *Simulator) GetVD() (uint16, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if !sim.pwr {
		return 0, nil
	}
	return sim.vd, nil
}

func (sim *Simulator) GetIA() (uint16, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if !sim.pwr {
		return 0, nil
	}
	// measured draw, roughly half of the programmed limit
	return sim.ia / 2, nil
}

func (sim *Simulator) GetID() (uint16, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if !sim.pwr {
		return 0, nil
	}
	return sim.id / 2, nil
}

func (sim *Simulator) HVOn() error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.hv = true
	return nil
}

func (sim *Simulator) HVOff() error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.hv = false
	return nil
}

func (sim *Simulator) POn() error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.pwr = true
	return nil
}

func (sim *Simulator) POff() error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.pwr = false
	sim.hv = false
	return nil
}

func (sim *Simulator) SigSetDelay(sig, value uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.delays[sig] = value
	return nil
}

func (sim *Simulator) SigSetLevel(sig, level uint8) error { return nil }
func (sim *Simulator) SignalProbeA1(sig uint8) error      { return nil }
func (sim *Simulator) SignalProbeA2(sig uint8) error      { return nil }
func (sim *Simulator) SignalProbeD1(sig uint8) error      { return nil }
func (sim *Simulator) SignalProbeD2(sig uint8) error      { return nil }

func (sim *Simulator) PgSetCmd(addr uint8, cmd uint16) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if int(addr) == len(sim.pg) {
		sim.pg = append(sim.pg, cmd)
		return nil
	}
	if int(addr) < len(sim.pg) {
		sim.pg[addr] = cmd
		return nil
	}
	return fmt.Errorf("dtb: non-consecutive PG address %d", addr)
}

// PgSingle runs the pattern generator program once. When a DAQ session
// is running and the program carries a trigger, one event with the
// armed pixels is appended to the sample buffer.
func (sim *Simulator) PgSingle() error {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	if !sim.daq[0].running {
		return nil
	}
	trg := false
	for _, cmd := range sim.pg {
		if cmd&PGTrg != 0 {
			trg = true
		}
	}
	if !trg {
		return nil
	}

	sim.daq[0].buf = append(sim.daq[0].buf, sim.event()...)
	return nil
}

func (sim *Simulator) PgStop() error { return nil }

// event synthesizes one deser160 event: ROC headers for every chip
// with armed pixels, then the pixel hits as 12-bit word pairs. The
// first word carries the start marker, the last one the end marker.
func (sim *Simulator) event() []uint16 {
	var words []uint16
	for roc := uint8(0); roc < NumROCs; roc++ {
		if len(sim.dacs[roc]) == 0 {
			continue
		}
		words = append(words, 0x07f8)
		for col := uint8(0); col < NumCols; col++ {
			for row := uint8(0); row < NumRows; row++ {
				i := int(col)*NumRows + int(row)
				if !sim.cals[roc][i] || sim.masked[roc][i] || !sim.cols[roc][col] {
					continue
				}
				raw := EncodePixel(Pixel{
					ROC: roc, Col: col, Row: row,
					Value: sim.pulseHeight(roc, col, row, sim.dacs[roc][0x19]),
				}, false)
				words = append(words,
					uint16(raw>>12)&0x0fff,
					uint16(raw)&0x0fff,
				)
			}
		}
	}
	if len(words) == 0 {
		words = []uint16{0x07f8}
	}
	words[0] |= 0x8000
	words[len(words)-1] |= 0x4000
	return words
}

// pulseHeight is a crude linear response in vcal, offset per pixel so
// that maps are not uniform.
func (sim *Simulator) pulseHeight(roc, col, row, vcal uint8) int32 {
	ph := 40 + int32(vcal)/2 + int32(col) + int32(row)/4
	if ph > 255 {
		ph = 255
	}
	return ph
}

func (sim *Simulator) RocI2CAddr(roc uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if roc >= NumROCs {
		return fmt.Errorf("dtb: invalid ROC i2c address %d", roc)
	}
	sim.roc = roc
	return nil
}

func (sim *Simulator) RocSetDAC(dac, value uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.dacs[sim.roc][dac] = value
	return nil
}

func (sim *Simulator) RocClrCal() error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	for i := range sim.cals[sim.roc] {
		sim.cals[sim.roc][i] = false
	}
	return nil
}

func (sim *Simulator) RocChipMask() error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	for i := range sim.masked[sim.roc] {
		sim.masked[sim.roc][i] = true
	}
	return nil
}

func (sim *Simulator) RocPixMask(col, row uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if col >= NumCols || row >= NumRows {
		return fmt.Errorf("dtb: invalid pixel (%d,%d)", col, row)
	}
	sim.masked[sim.roc][int(col)*NumRows+int(row)] = true
	return nil
}

func (sim *Simulator) RocPixTrim(col, row, trim uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if col >= NumCols || row >= NumRows {
		return fmt.Errorf("dtb: invalid pixel (%d,%d)", col, row)
	}
	sim.masked[sim.roc][int(col)*NumRows+int(row)] = false
	return nil
}

func (sim *Simulator) RocPixCal(col, row uint8, sensorPad bool) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if col >= NumCols || row >= NumRows {
		return fmt.Errorf("dtb: invalid pixel (%d,%d)", col, row)
	}
	sim.cals[sim.roc][int(col)*NumRows+int(row)] = true
	return nil
}

func (sim *Simulator) RocColEnable(col uint8, enable bool) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if col >= NumCols {
		return fmt.Errorf("dtb: invalid column %d", col)
	}
	sim.cols[sim.roc][col] = enable
	return nil
}

func (sim *Simulator) TrimChip(trim []int16) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if len(trim) != NumCols*NumRows {
		return fmt.Errorf("dtb: trim vector length %d, want %d",
			len(trim), NumCols*NumRows)
	}
	for i, v := range trim {
		sim.masked[sim.roc][i] = v < 0
	}
	return nil
}

func (sim *Simulator) TbmEnable(on bool) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.tbmOn = on
	return nil
}

func (sim *Simulator) ModAddr(hub uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.hub = hub
	return nil
}

func (sim *Simulator) TbmSet(reg, value uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if !sim.tbmOn {
		return fmt.Errorf("dtb: TBM not enabled")
	}
	sim.tbmRegs[reg] = value
	return nil
}

func (sim *Simulator) CalibrateMap(nTriggers uint16) ([]int16, []int32, []uint32, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	var (
		nReadouts = make([]int16, 0, NumCols*NumRows)
		phSum     = make([]int32, 0, NumCols*NumRows)
		addr      = make([]uint32, 0, NumCols*NumRows)

		roc  = sim.roc
		vcal = sim.dacs[roc][0x19]
	)
	for col := uint8(0); col < NumCols; col++ {
		for row := uint8(0); row < NumRows; row++ {
			n, ph := sim.calibrate(roc, col, row, vcal, nTriggers)
			nReadouts = append(nReadouts, n)
			phSum = append(phSum, ph)
			addr = append(addr, uint32(roc)<<16|uint32(col)<<8|uint32(row))
		}
	}
	return nReadouts, phSum, addr, nil
}

func (sim *Simulator) CalibratePixel(nTriggers uint16, col, row uint8) (int16, int32, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if col >= NumCols || row >= NumRows {
		return 0, 0, fmt.Errorf("dtb: invalid pixel (%d,%d)", col, row)
	}
	n, ph := sim.calibrate(sim.roc, col, row, sim.dacs[sim.roc][0x19], nTriggers)
	return n, ph, nil
}

func (sim *Simulator) CalibrateDacScan(nTriggers uint16, col, row, dacReg, dacMax uint8) ([]int16, []int32, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if col >= NumCols || row >= NumRows {
		return nil, nil, fmt.Errorf("dtb: invalid pixel (%d,%d)", col, row)
	}

	var (
		nReadouts = make([]int16, 0, int(dacMax))
		phSum     = make([]int32, 0, int(dacMax))
	)
	for v := 0; v < int(dacMax); v++ {
		vcal := sim.dacs[sim.roc][0x19]
		if dacReg == 0x19 {
			vcal = uint8(v)
		}
		n, ph := sim.calibrate(sim.roc, col, row, vcal, nTriggers)
		nReadouts = append(nReadouts, n)
		phSum = append(phSum, ph)
	}
	return nReadouts, phSum, nil
}

func (sim *Simulator) CalibrateDacDacScan(nTriggers uint16, col, row, dac1Reg, dac1Max, dac2Reg, dac2Max uint8) ([]int16, []int32, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if col >= NumCols || row >= NumRows {
		return nil, nil, fmt.Errorf("dtb: invalid pixel (%d,%d)", col, row)
	}

	var (
		n  = int(dac1Max) * int(dac2Max)
		nr = make([]int16, 0, n)
		ph = make([]int32, 0, n)
	)
	for v1 := 0; v1 < int(dac1Max); v1++ {
		for v2 := 0; v2 < int(dac2Max); v2++ {
			vcal := sim.dacs[sim.roc][0x19]
			switch {
			case dac1Reg == 0x19:
				vcal = uint8(v1)
			case dac2Reg == 0x19:
				vcal = uint8(v2)
			}
			rn, rp := sim.calibrate(sim.roc, col, row, vcal, nTriggers)
			nr = append(nr, rn)
			ph = append(ph, rp)
		}
	}
	return nr, ph, nil
}

// calibrate runs nTriggers calibrate injections on one pixel. Masked
// pixels and disabled columns read out nothing.
func (sim *Simulator) calibrate(roc, col, row, vcal uint8, nTriggers uint16) (int16, int32) {
	i := int(col)*NumRows + int(row)
	if sim.masked[roc][i] || !sim.cols[roc][col] {
		return 0, 0
	}
	ph := sim.pulseHeight(roc, col, row, vcal)
	return int16(nTriggers), int32(nTriggers) * ph
}

func (sim *Simulator) DaqOpen(size uint32, ch uint8) (uint32, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if ch >= 2 {
		return 0, fmt.Errorf("dtb: invalid DAQ channel %d", ch)
	}
	sim.daq[ch] = simChannel{open: true}
	return size, nil
}

func (sim *Simulator) DaqStart(ch uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if ch >= 2 || !sim.daq[ch].open {
		return fmt.Errorf("dtb: DAQ channel %d not open", ch)
	}
	sim.daq[ch].running = true
	return nil
}

func (sim *Simulator) DaqStop(ch uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if ch >= 2 || !sim.daq[ch].open {
		return fmt.Errorf("dtb: DAQ channel %d not open", ch)
	}
	sim.daq[ch].running = false
	return nil
}

func (sim *Simulator) DaqClose(ch uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if ch >= 2 {
		return fmt.Errorf("dtb: invalid DAQ channel %d", ch)
	}
	sim.daq[ch] = simChannel{}
	return nil
}

func (sim *Simulator) DaqGetSize(ch uint8) (uint32, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if ch >= 2 {
		return 0, fmt.Errorf("dtb: invalid DAQ channel %d", ch)
	}
	return uint32(len(sim.daq[ch].buf)), nil
}

func (sim *Simulator) DaqRead(size uint32, ch uint8) ([]uint16, uint32, error) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if ch >= 2 || !sim.daq[ch].open {
		return nil, 0, fmt.Errorf("dtb: DAQ channel %d not open", ch)
	}

	n := int(size)
	if n > len(sim.daq[ch].buf) {
		n = len(sim.daq[ch].buf)
	}
	data := make([]uint16, n)
	copy(data, sim.daq[ch].buf[:n])
	sim.daq[ch].buf = sim.daq[ch].buf[n:]
	return data, uint32(len(sim.daq[ch].buf)), nil
}

func (sim *Simulator) DaqSelectDeser160(phase uint8) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.phase = phase
	sim.des400 = false
	return nil
}

func (sim *Simulator) DaqSelectDeser400() error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.des400 = true
	return nil
}

func (sim *Simulator) UpgradeGetVersion() (uint16, error) { return 0x0100, nil }

func (sim *Simulator) UpgradeStart(version uint16) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if version != 0x0100 {
		return fmt.Errorf("dtb: unsupported upgrade version 0x%04x", version)
	}
	sim.upStarted = true
	sim.upRecords = 0
	return nil
}

func (sim *Simulator) UpgradeData(record string) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if !sim.upStarted {
		return fmt.Errorf("dtb: upgrade not started")
	}
	sim.upRecords++
	return nil
}

func (sim *Simulator) UpgradeError() error { return nil }

func (sim *Simulator) UpgradeExec(nRecords uint16) error {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if int(nRecords) != sim.upRecords {
		return fmt.Errorf("dtb: upgrade record count mismatch: got %d, want %d",
			nRecords, sim.upRecords)
	}
	sim.upStarted = false
	return nil
}

func (sim *Simulator) UDelay(us uint16) error { return nil }

var _ Testboard = (*Simulator)(nil)
