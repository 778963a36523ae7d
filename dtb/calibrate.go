// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
)

// value selects the sample value according to the calibration flags:
// the number of readouts for efficiency measurements, the accumulated
// pulse-height sum otherwise.
func value(flags uint32, nReadouts int16, phSum int32) int32 {
	if flags&FlagEfficiency != 0 {
		return int32(nReadouts)
	}
	return phSum
}

// RocCalibrateMap runs the whole-ROC calibrate routine on the
// testboard firmware and returns one sample per responding pixel.
func (hal *HAL) RocCalibrateMap(roc uint8, flags uint32, nTriggers uint16) ([]Pixel, error) {
	hal.msg.Printf("called RocCalibrateMap with flags %d, running %d triggers", flags, nTriggers)

	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return nil, fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}

	nReadouts, phSum, addr, err := hal.tb.CalibrateMap(nTriggers)
	if err != nil {
		return nil, fmt.Errorf("dtb: CalibrateMap failed on ROC %d: %w", roc, err)
	}
	hal.msg.Printf("data size: nReadouts %d, phSum %d, address %d", len(nReadouts), len(phSum), len(addr))

	if len(addr) != len(nReadouts) || len(addr) != len(phSum) {
		return nil, fmt.Errorf("dtb: CalibrateMap data size mismatch (readouts=%d phsum=%d addr=%d)",
			len(nReadouts), len(phSum), len(addr))
	}

	data := make([]Pixel, len(addr))
	for i, a := range addr {
		data[i] = pixelFromAddr(a, value(flags, nReadouts[i], phSum[i]))
	}
	return data, nil
}

// PixelCalibrateMap runs the calibrate routine for a single pixel.
func (hal *HAL) PixelCalibrateMap(roc, col, row uint8, flags uint32, nTriggers uint16) (Pixel, error) {
	hal.msg.Printf("called PixelCalibrateMap with flags %d, running %d triggers", flags, nTriggers)

	pix := Pixel{ROC: roc, Col: col, Row: row}

	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return pix, fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}

	nReadouts, phSum, err := hal.tb.CalibratePixel(nTriggers, col, row)
	if err != nil {
		return pix, fmt.Errorf("dtb: CalibratePixel failed on ROC %d: %w", roc, err)
	}

	pix.Value = value(flags, nReadouts, phSum)
	return pix, nil
}

// PixelCalibrateDacScan scans a DAC register over [dacMin, dacMax) for
// a single pixel and returns one sample per DAC value, in scan order.
// The firmware routine always scans from zero; the samples below
// dacMin are dropped here.
func (hal *HAL) PixelCalibrateDacScan(roc, col, row uint8, dac, dacMin, dacMax uint8, flags uint32, nTriggers uint16) ([]Pixel, error) {
	hal.msg.Printf("called PixelCalibrateDacScan with flags %d, running %d triggers", flags, nTriggers)
	hal.msg.Printf("scanning DAC %d from %d to %d", dac, dacMin, dacMax)

	if dacMin > dacMax {
		return nil, fmt.Errorf("dtb: invalid DAC scan range [%d, %d)", dacMin, dacMax)
	}

	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return nil, fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}

	nReadouts, phSum, err := hal.tb.CalibrateDacScan(nTriggers, col, row, dac, dacMax)
	if err != nil {
		return nil, fmt.Errorf("dtb: CalibrateDacScan failed on ROC %d: %w", roc, err)
	}
	hal.msg.Printf("data size: nReadouts %d, phSum %d", len(nReadouts), len(phSum))

	if len(nReadouts) < int(dacMax) || len(phSum) < int(dacMax) {
		return nil, fmt.Errorf("dtb: CalibrateDacScan data size mismatch (readouts=%d phsum=%d want>=%d)",
			len(nReadouts), len(phSum), dacMax)
	}

	data := make([]Pixel, 0, int(dacMax)-int(dacMin))
	for i := int(dacMin); i < int(dacMax); i++ {
		data = append(data, Pixel{
			ROC: roc, Col: col, Row: row,
			Value: value(flags, nReadouts[i], phSum[i]),
		})
	}
	return data, nil
}

// PixelCalibrateDacDacScan scans two DAC registers for a single pixel.
// The samples are returned dac1-major: the sample for (i, j) sits at
// index (i-dac1Min)*(dac2Max-dac2Min) + (j-dac2Min).
func (hal *HAL) PixelCalibrateDacDacScan(roc, col, row uint8, dac1, dac1Min, dac1Max, dac2, dac2Min, dac2Max uint8, flags uint32, nTriggers uint16) ([]Pixel, error) {
	hal.msg.Printf("called PixelCalibrateDacDacScan with flags %d, running %d triggers", flags, nTriggers)
	hal.msg.Printf("scanning field DAC %d %d-%d, DAC %d %d-%d", dac1, dac1Min, dac1Max, dac2, dac2Min, dac2Max)

	if dac1Min > dac1Max || dac2Min > dac2Max {
		return nil, fmt.Errorf("dtb: invalid DAC-DAC scan range [%d, %d)x[%d, %d)",
			dac1Min, dac1Max, dac2Min, dac2Max)
	}

	err := hal.tb.RocI2CAddr(roc)
	if err != nil {
		return nil, fmt.Errorf("dtb: could not select ROC %d: %w", roc, err)
	}

	nReadouts, phSum, err := hal.tb.CalibrateDacDacScan(nTriggers, col, row, dac1, dac1Max, dac2, dac2Max)
	if err != nil {
		return nil, fmt.Errorf("dtb: CalibrateDacDacScan failed on ROC %d: %w", roc, err)
	}
	hal.msg.Printf("data size: nReadouts %d, phSum %d", len(nReadouts), len(phSum))

	n := int(dac1Max) * int(dac2Max)
	if len(nReadouts) < n || len(phSum) < n {
		return nil, fmt.Errorf("dtb: CalibrateDacDacScan data size mismatch (readouts=%d phsum=%d want>=%d)",
			len(nReadouts), len(phSum), n)
	}

	data := make([]Pixel, 0, (int(dac1Max)-int(dac1Min))*(int(dac2Max)-int(dac2Min)))
	for i := int(dac1Min); i < int(dac1Max); i++ {
		for j := int(dac2Min); j < int(dac2Max); j++ {
			data = append(data, Pixel{
				ROC: roc, Col: col, Row: row,
				Value: value(flags, nReadouts[i*int(dac2Max)+j], phSum[i*int(dac2Max)+j]),
			})
		}
	}
	return data, nil
}
