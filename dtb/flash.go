// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"bufio"
	"fmt"
	"io"
	"time"
)

// upgradeVersion is the only firmware upgrade protocol version this
// HAL knows how to drive.
const upgradeVersion = 0x0100

// FlashFirmware streams a firmware flash file to the testboard. The
// records are forwarded line by line; their content is opaque to the
// HAL. After the download the testboard writes its EPCS flash on its
// own: do not interrupt the DTB power until its LEDs go off, then
// power-cycle the board.
func (hal *HAL) FlashFirmware(r io.Reader) error {
	v, err := hal.tb.UpgradeGetVersion()
	if err != nil {
		return fmt.Errorf("dtb: could not get upgrade version: %w", err)
	}
	if v != upgradeVersion {
		return fmt.Errorf("dtb: could not upgrade this DTB version (0x%04x)", v)
	}

	hal.msg.Printf("starting DTB firmware upgrade")
	err = hal.tb.UpgradeStart(upgradeVersion)
	if err != nil {
		return fmt.Errorf("dtb: upgrade start failed: %w", err)
	}

	hal.msg.Printf("download running...")
	var nrec uint16
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		rec := sc.Text()
		if len(rec) == 0 {
			continue
		}
		nrec++
		err = hal.tb.UpgradeData(rec)
		if err != nil {
			return fmt.Errorf("dtb: upgrade record %d failed: %w", nrec, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("dtb: error reading flash file: %w", err)
	}

	err = hal.tb.UpgradeError()
	if err != nil {
		return fmt.Errorf("dtb: upgrade failed: %w", err)
	}

	hal.msg.Printf("DTB download complete (%d records)", nrec)
	time.Sleep(200 * time.Millisecond)
	hal.msg.Printf("FLASH write start (LED 1..4 on)")
	hal.msg.Printf("DO NOT INTERRUPT DTB POWER!")
	hal.msg.Printf("wait till LEDs go off, then power-cycle the DTB")

	err = hal.tb.UpgradeExec(nrec)
	if err != nil {
		return fmt.Errorf("dtb: upgrade exec failed: %w", err)
	}
	return hal.tb.Flush()
}
