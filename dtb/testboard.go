// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

// Testboard is the remote testboard device object, implemented by the
// RPC/USB client. The wire protocol, the USB link management and the
// firmware upgrade transfer encoding all live behind this boundary;
// the HAL only sequences calls into it.
//
// Register-level values cross this boundary raw: voltages in mV,
// currents in units of 100 uA, DAC and delay registers as 8-bit pairs.
type Testboard interface {
	// Enumeration of attached testboards.
	EnumFirst() (ndev int, err error)
	EnumNext() (name string, err error)

	// Link management.
	Open(name string) error
	Close() error
	Init() error
	Welcome() error
	Flush() error
	GetInfo() (string, error)
	BoardID() (uint32, error)

	// RPC call introspection, used by the compatibility handshake.
	HostRPCCallNames() []string
	RPCCallCount() (int, error)
	RPCCallName(id int) (string, error)

	// Power supplies and switches.
	SetVA(mv uint16) error
	SetVD(mv uint16) error
	SetIA(ua100 uint16) error
	SetID(ua100 uint16) error
	GetVA() (uint16, error)
	GetVD() (uint16, error)
	GetIA() (uint16, error)
	GetID() (uint16, error)
	HVOn() error
	HVOff() error
	POn() error
	POff() error

	// Signal routing.
	SigSetDelay(sig, value uint8) error
	SigSetLevel(sig, level uint8) error
	SignalProbeA1(sig uint8) error
	SignalProbeA2(sig uint8) error
	SignalProbeD1(sig uint8) error
	SignalProbeD2(sig uint8) error

	// Pattern generator.
	PgSetCmd(addr uint8, cmd uint16) error
	PgSingle() error
	PgStop() error

	// ROC configuration. RocI2CAddr selects the chip addressed by the
	// subsequent roc calls.
	RocI2CAddr(roc uint8) error
	RocSetDAC(dac, value uint8) error
	RocClrCal() error
	RocChipMask() error
	RocPixMask(col, row uint8) error
	RocPixTrim(col, row, trim uint8) error
	RocPixCal(col, row uint8, sensorPad bool) error
	RocColEnable(col uint8, enable bool) error
	TrimChip(trim []int16) error

	// TBM configuration.
	TbmEnable(on bool) error
	ModAddr(hub uint8) error
	TbmSet(reg, value uint8) error

	// Calibration routines running on the testboard firmware.
	CalibrateMap(nTriggers uint16) (nReadouts []int16, phSum []int32, addr []uint32, err error)
	CalibratePixel(nTriggers uint16, col, row uint8) (nReadouts int16, phSum int32, err error)
	CalibrateDacScan(nTriggers uint16, col, row, dacReg, dacMax uint8) (nReadouts []int16, phSum []int32, err error)
	CalibrateDacDacScan(nTriggers uint16, col, row, dac1Reg, dac1Max, dac2Reg, dac2Max uint8) (nReadouts []int16, phSum []int32, err error)

	// DAQ sample buffers.
	DaqOpen(size uint32, ch uint8) (uint32, error)
	DaqStart(ch uint8) error
	DaqStop(ch uint8) error
	DaqClose(ch uint8) error
	DaqGetSize(ch uint8) (uint32, error)
	DaqRead(size uint32, ch uint8) (data []uint16, remaining uint32, err error)
	DaqSelectDeser160(phase uint8) error
	DaqSelectDeser400() error

	// Firmware upgrade transfer. The record content is opaque to the
	// HAL; it is produced by the flash-file toolchain.
	UpgradeGetVersion() (uint16, error)
	UpgradeStart(version uint16) error
	UpgradeData(record string) error
	UpgradeError() error
	UpgradeExec(nRecords uint16) error

	// UDelay pauses the testboard command stream for us microseconds.
	UDelay(us uint16) error
}
