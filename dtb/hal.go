// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"
)

// Setup gathers the parameters applied by HAL.Init: supply voltages
// and current limits, testboard signal delays and the pattern
// generator program.
type Setup struct {
	VA float64 // analog supply voltage, in V
	VD float64 // digital supply voltage, in V
	IA float64 // analog current limit, in A
	ID float64 // digital current limit, in A

	Delays map[uint8]uint8 // signal id -> delay value
	PG     []PGEntry       // pattern generator program
}

// Option configures a HAL.
type Option func(*config)

type config struct {
	msg  *log.Logger
	name string // USB id of the board to open; empty auto-selects
}

// WithLogger sets the logger used by the HAL.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithName selects the testboard with the given USB id instead of
// auto-selecting the only attached one.
func WithName(name string) Option {
	return func(cfg *config) {
		cfg.name = name
	}
}

// HAL sequences configuration and calibration intents into remote
// calls against a testboard device.
type HAL struct {
	msg *log.Logger
	tb  Testboard
	ini bool
}

// New connects to a testboard: it enumerates the attached devices,
// opens the selected one, checks the RPC compatibility of both ends
// and runs the welcome sequence.
func New(tb Testboard, opts ...Option) (*HAL, error) {
	cfg := config{
		msg: log.New(os.Stdout, "dtb: ", 0),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	hal := &HAL{
		msg: cfg.msg,
		tb:  tb,
	}

	name, err := hal.findDTB(cfg.name)
	if err != nil {
		return nil, fmt.Errorf("dtb: could not find DTB: %w", err)
	}

	err = tb.Open(name)
	if err != nil {
		return nil, fmt.Errorf("dtb: could not open board %q: %w", name, err)
	}
	hal.msg.Printf("connection to board %q opened", name)

	defer func() {
		if err != nil {
			_ = tb.Close()
			hal.msg.Printf("connection to board %q has been cancelled", name)
		}
	}()

	err = hal.printInfo()
	if err != nil {
		return nil, fmt.Errorf("dtb: could not read board info: %w", err)
	}

	err = hal.checkCompatibility()
	if err != nil {
		return nil, fmt.Errorf("dtb: RPC compatibility check failed: %w", err)
	}

	err = tb.Welcome()
	if err != nil {
		return nil, fmt.Errorf("dtb: could not run welcome sequence: %w", err)
	}
	err = tb.Flush()
	if err != nil {
		return nil, fmt.Errorf("dtb: could not flush command stream: %w", err)
	}

	err = tb.Init()
	if err != nil {
		return nil, fmt.Errorf("dtb: could not initialize testboard: %w", err)
	}

	return hal, nil
}

// Close powers down the device under test and closes the testboard
// connection.
func (hal *HAL) Close() error {
	_ = hal.tb.HVOff()
	_ = hal.tb.POff()
	_ = hal.tb.Flush()

	id, err := hal.tb.BoardID()
	if err == nil {
		hal.msg.Printf("connection to board %d closed", id)
	}
	return hal.tb.Close()
}

// Initialized reports whether Init completed on this HAL.
func (hal *HAL) Initialized() bool {
	if !hal.ini {
		hal.msg.Printf("testboard not initialized yet")
	}
	return hal.ini
}

// findDTB enumerates the attached devices matching the DTB naming
// scheme. With an empty name, a single attached board is auto-selected
// and an ambiguous set is an error listing the candidates.
func (hal *HAL) findDTB(name string) (string, error) {
	ndev, err := hal.tb.EnumFirst()
	if err != nil {
		return "", fmt.Errorf("could not access USB driver: %w", err)
	}

	var devs []string
	for i := 0; i < ndev; i++ {
		dev, err := hal.tb.EnumNext()
		if err != nil {
			continue
		}
		if !strings.HasPrefix(dev, "DTB_") {
			continue
		}
		devs = append(devs, dev)
	}
	sort.Strings(devs)

	switch {
	case len(devs) == 0:
		return "", fmt.Errorf("no DTB connected")
	case name != "":
		for _, dev := range devs {
			if dev == name {
				return name, nil
			}
		}
		return "", fmt.Errorf("board %q not attached (found %s)", name, strings.Join(devs, ", "))
	case len(devs) == 1:
		return devs[0], nil
	default:
		return "", fmt.Errorf("%d DTBs connected (%s), select one explicitly", len(devs), strings.Join(devs, ", "))
	}
}

func (hal *HAL) printInfo() error {
	info, err := hal.tb.GetInfo()
	if err != nil {
		return err
	}
	hal.msg.Printf("DTB startup information:\n%s", strings.TrimRight(info, "\n"))
	return nil
}

// Init applies the testboard setup: supply voltages, current limits,
// signal delays and the pattern generator program. The HAL is marked
// initialized on success.
func (hal *HAL) Init(setup Setup) error {
	err := hal.setPower(setup)
	if err != nil {
		return err
	}
	err = hal.tb.Flush()
	if err != nil {
		return fmt.Errorf("dtb: could not flush power setup: %w", err)
	}
	hal.msg.Printf("voltages and current limits set")

	// Deterministic programming order for the delay registers.
	sigs := make([]uint8, 0, len(setup.Delays))
	for sig := range setup.Delays {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i] < sigs[j] })

	for _, sig := range sigs {
		v := setup.Delays[sig]
		switch sig {
		case SigDeser160Phase:
			hal.msg.Printf("set DTB deser160 phase to value %d", v)
			err = hal.tb.DaqSelectDeser160(v)
			if err != nil {
				return fmt.Errorf("dtb: could not set deser160 phase: %w", err)
			}
		default:
			hal.msg.Printf("set DTB delay %d to value %d", sig, v)
			err = hal.tb.SigSetDelay(sig, v)
			if err != nil {
				return fmt.Errorf("dtb: could not set delay %d: %w", sig, err)
			}
			// All signal levels default to 15 (highest).
			err = hal.tb.SigSetLevel(sig, 15)
			if err != nil {
				return fmt.Errorf("dtb: could not set level of signal %d: %w", sig, err)
			}
		}
	}
	err = hal.tb.Flush()
	if err != nil {
		return fmt.Errorf("dtb: could not flush delay setup: %w", err)
	}
	hal.msg.Printf("testboard delays set")

	err = hal.SetupPatternGenerator(setup.PG)
	if err != nil {
		return err
	}

	hal.ini = true
	return nil
}

func (hal *HAL) setPower(setup Setup) error {
	err := hal.SetTBva(setup.VA)
	if err != nil {
		return err
	}
	err = hal.SetTBvd(setup.VD)
	if err != nil {
		return err
	}
	err = hal.SetTBia(setup.IA)
	if err != nil {
		return err
	}
	return hal.SetTBid(setup.ID)
}

// SetupPatternGenerator writes the PG program into consecutive device
// addresses. The program must terminate with a zero delay; the pattern
// generator stops at that slot, so the remaining address range needs
// no clearing.
func (hal *HAL) SetupPatternGenerator(pg []PGEntry) error {
	if len(pg) == 0 {
		return nil
	}
	for i, e := range pg[:len(pg)-1] {
		if e.Delay == 0 {
			return fmt.Errorf("dtb: PG entry %d (pattern 0x%04x) has zero delay before end of program", i, e.Pattern)
		}
	}
	if last := pg[len(pg)-1]; last.Delay != 0 {
		return fmt.Errorf("dtb: PG program does not terminate (last delay=%d)", last.Delay)
	}

	for i, e := range pg {
		cmd := e.cmd()
		hal.msg.Printf("setting PG cmd 0x%04x (addr %d pat 0x%04x del %d)", cmd, i, e.Pattern, e.Delay)
		err := hal.tb.PgSetCmd(uint8(i), cmd)
		if err != nil {
			return fmt.Errorf("dtb: could not set PG cmd at addr %d: %w", i, err)
		}
	}
	return hal.tb.Flush()
}

// Voltage and current conversions: the testboard registers hold mV and
// 100 uA units.

// SetTBva sets the analog supply voltage, in V.
func (hal *HAL) SetTBva(va float64) error {
	hal.msg.Printf("set DTB analog output voltage to VA = %v V", va)
	return hal.tb.SetVA(uint16(va * 1000))
}

// SetTBvd sets the digital supply voltage, in V.
func (hal *HAL) SetTBvd(vd float64) error {
	hal.msg.Printf("set DTB digital output voltage to VD = %v V", vd)
	return hal.tb.SetVD(uint16(vd * 1000))
}

// SetTBia sets the analog current limit, in A.
func (hal *HAL) SetTBia(ia float64) error {
	hal.msg.Printf("set DTB analog current limit to IA = %v A", ia)
	return hal.tb.SetIA(uint16(ia * 10000))
}

// SetTBid sets the digital current limit, in A.
func (hal *HAL) SetTBid(id float64) error {
	hal.msg.Printf("set DTB digital current limit to ID = %v A", id)
	return hal.tb.SetID(uint16(id * 10000))
}

// TBva returns the analog supply voltage, in V.
func (hal *HAL) TBva() (float64, error) {
	v, err := hal.tb.GetVA()
	return float64(v) / 1000, err
}

// TBvd returns the digital supply voltage, in V.
func (hal *HAL) TBvd() (float64, error) {
	v, err := hal.tb.GetVD()
	return float64(v) / 1000, err
}

// TBia returns the analog current drawn, in A.
func (hal *HAL) TBia() (float64, error) {
	v, err := hal.tb.GetIA()
	return float64(v) / 10000, err
}

// TBid returns the digital current drawn, in A.
func (hal *HAL) TBid() (float64, error) {
	v, err := hal.tb.GetID()
	return float64(v) / 10000, err
}

// InitROC programs all DAC registers of a ROC.
func (hal *HAL) InitROC(roc uint8, dacs map[uint8]uint8) error {
	hal.msg.Printf("setting DAC vector for ROC %d", roc)
	return hal.RocSetDACs(roc, dacs)
}

// InitTBM enables the TBM and programs all its registers.
func (hal *HAL) InitTBM(tbm uint8, regs map[uint8]uint8) error {
	err := hal.tb.TbmEnable(true)
	if err != nil {
		return fmt.Errorf("dtb: could not enable TBM %d: %w", tbm, err)
	}
	// Hub address 31 is the default for the current modules.
	err = hal.tb.ModAddr(31)
	if err != nil {
		return fmt.Errorf("dtb: could not set module hub address: %w", err)
	}
	err = hal.tb.Flush()
	if err != nil {
		return fmt.Errorf("dtb: could not flush TBM enable: %w", err)
	}

	hal.msg.Printf("setting register vector for TBM %d", tbm)
	return hal.TbmSetRegs(tbm, regs)
}

// RocSetDACs programs a batch of DAC registers on a ROC and flushes
// the queued commands.
func (hal *HAL) RocSetDACs(roc uint8, dacs map[uint8]uint8) error {
	ids := make([]uint8, 0, len(dacs))
	for id := range dacs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		err := hal.RocSetDAC(roc, id, dacs[id])
		if err != nil {
			return err
		}
	}
	return hal.tb.Flush()
}

// RocSetDAC programs a single DAC register on a ROC.
func (hal *HAL) RocSetDAC(roc, dac, value uint8) error {
	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}
	hal.msg.Printf("set DAC %d to %d", dac, value)
	err = hal.tb.RocSetDAC(dac, value)
	if err != nil {
		return fmt.Errorf("dtb: could not set DAC %d on ROC %d: %w", dac, roc, err)
	}
	return nil
}

// TbmSetRegs programs a batch of TBM registers and flushes the queued
// commands.
func (hal *HAL) TbmSetRegs(tbm uint8, regs map[uint8]uint8) error {
	ids := make([]uint8, 0, len(regs))
	for id := range regs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		err := hal.TbmSetReg(tbm, id, regs[id])
		if err != nil {
			return err
		}
	}
	return hal.tb.Flush()
}

// TbmSetReg programs one TBM register on both TBM cores.
func (hal *HAL) TbmSetReg(tbm, reg, value uint8) error {
	err := hal.tb.ModAddr(31)
	if err != nil {
		return fmt.Errorf("dtb: could not set module hub address: %w", err)
	}
	hal.msg.Printf("set reg 0x%x to 0x%x for both TBM cores (0x%x, 0x%x)",
		reg, value, TBMCoreA|reg, TBMCoreB|reg)
	err = hal.tb.TbmSet(reg, value)
	if err != nil {
		return fmt.Errorf("dtb: could not set TBM register 0x%x: %w", reg, err)
	}
	return nil
}

// RocSetMask masks the whole ROC, or unmasks it and applies the trim
// values of the given pixels (default trim 15 elsewhere).
func (hal *HAL) RocSetMask(roc uint8, mask bool, pixels []Pixel) error {
	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}

	if mask {
		hal.msg.Printf("masking ROC %d", roc)
		return hal.tb.RocChipMask()
	}

	hal.msg.Printf("updating mask bits and trim values of ROC %d", roc)

	trim := make([]int16, NumCols*NumRows)
	for i := range trim {
		trim[i] = 15
	}
	for _, pix := range pixels {
		trim[int(pix.Col)*NumRows+int(pix.Row)] = int16(pix.Value)
	}

	for col := uint8(0); col < NumCols; col++ {
		err = hal.tb.RocColEnable(col, true)
		if err != nil {
			return fmt.Errorf("dtb: could not enable column %d: %w", col, err)
		}
	}
	return hal.tb.TrimChip(trim)
}

// PixelSetMask masks a single pixel, or unmasks it with the given trim
// value.
func (hal *HAL) PixelSetMask(roc, col, row uint8, mask bool, trim uint8) error {
	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}
	if mask {
		hal.msg.Printf("masking pixel %d,%d on ROC %d", col, row, roc)
		return hal.tb.RocPixMask(col, row)
	}
	hal.msg.Printf("trimming pixel %d,%d (%d)", col, row, trim)
	return hal.tb.RocPixTrim(col, row, trim)
}

// ColumnSetEnable attaches or detaches a double column from its
// readout.
func (hal *HAL) ColumnSetEnable(roc, col uint8, enable bool) error {
	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}
	hal.msg.Printf("setting column %d enable bit to %v", col, enable)
	return hal.tb.RocColEnable(col, enable)
}

// PixelSetCalibrate arms the calibrate bit of a pixel; FlagCals routes
// the pulse through the sensor pad.
func (hal *HAL) PixelSetCalibrate(roc, col, row uint8, flags uint32) error {
	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}
	return hal.tb.RocPixCal(col, row, flags&FlagCals != 0)
}

// RocClearCalibrate clears all calibrate bits of a ROC.
func (hal *HAL) RocClearCalibrate(roc uint8) error {
	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}
	hal.msg.Printf("clearing calibrate signal for ROC %d", roc)
	return hal.tb.RocClrCal()
}

// HVOn switches on the high-voltage sensor bias and waits for the
// relay to settle.
func (hal *HAL) HVOn() error {
	hal.msg.Printf("turning on high voltage for sensor bias")
	err := hal.tb.HVOn()
	if err != nil {
		return fmt.Errorf("dtb: could not switch HV on: %w", err)
	}
	err = hal.tb.Flush()
	if err != nil {
		return fmt.Errorf("dtb: could not flush HV-on: %w", err)
	}
	time.Sleep(400 * time.Millisecond)
	return nil
}

// HVOff switches off the high-voltage sensor bias.
func (hal *HAL) HVOff() error {
	err := hal.tb.HVOff()
	if err != nil {
		return fmt.Errorf("dtb: could not switch HV off: %w", err)
	}
	return hal.tb.Flush()
}

// POn powers up the device under test and waits for the switch to
// settle.
func (hal *HAL) POn() error {
	hal.msg.Printf("powering up testboard DUT connection")
	err := hal.tb.POn()
	if err != nil {
		return fmt.Errorf("dtb: could not switch DUT power on: %w", err)
	}
	err = hal.tb.Flush()
	if err != nil {
		return fmt.Errorf("dtb: could not flush power-on: %w", err)
	}
	time.Sleep(300 * time.Millisecond)
	return nil
}

// POff powers down the device under test.
func (hal *HAL) POff() error {
	err := hal.tb.POff()
	if err != nil {
		return fmt.Errorf("dtb: could not switch DUT power off: %w", err)
	}
	return hal.tb.Flush()
}

// SignalProbe routes a signal to one of the probe connectors
// ("a1", "a2", "d1", "d2").
func (hal *HAL) SignalProbe(probe string, sig uint8) error {
	var err error
	switch strings.ToLower(probe) {
	case "a1":
		err = hal.tb.SignalProbeA1(sig)
	case "a2":
		err = hal.tb.SignalProbeA2(sig)
	case "d1":
		err = hal.tb.SignalProbeD1(sig)
	case "d2":
		err = hal.tb.SignalProbeD2(sig)
	default:
		return fmt.Errorf("dtb: unknown probe connector %q", probe)
	}
	if err != nil {
		return fmt.Errorf("dtb: could not set probe %s: %w", probe, err)
	}
	err = hal.tb.UDelay(100)
	if err != nil {
		return fmt.Errorf("dtb: could not delay probe %s: %w", probe, err)
	}
	return hal.tb.Flush()
}
