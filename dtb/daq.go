// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
)

const (
	daqBufferSize = 50000000 // sample buffer allocation, in words

	// maximum number of words drained per DaqRead RPC call.
	maxDaqTransfer = 32768
)

// DaqStart opens the sample buffers and starts a DAQ session.
// Without TBMs, channel 0 is read out through the DESER160 with the
// given phase. With TBMs, channel 1 is opened as well and both run
// through the DESER400.
func (hal *HAL) DaqStart(deser160Phase uint8, nTBMs int) error {
	hal.msg.Printf("starting new DAQ session")

	alloc, err := hal.tb.DaqOpen(daqBufferSize, 0)
	if err != nil {
		return fmt.Errorf("dtb: could not open DAQ channel 0: %w", err)
	}
	hal.msg.Printf("allocated buffer size, channel 0: %d", alloc)

	err = hal.tb.UDelay(100)
	if err != nil {
		return fmt.Errorf("dtb: could not settle DAQ open: %w", err)
	}

	switch {
	case nTBMs > 0:
		hal.msg.Printf("enabling deserializer400 for data acquisition")
		alloc, err = hal.tb.DaqOpen(daqBufferSize, 1)
		if err != nil {
			return fmt.Errorf("dtb: could not open DAQ channel 1: %w", err)
		}
		hal.msg.Printf("allocated buffer size, channel 1: %d", alloc)

		err = hal.tb.DaqSelectDeser400()
		if err != nil {
			return fmt.Errorf("dtb: could not select deser400: %w", err)
		}
		err = hal.tb.DaqStart(1)
		if err != nil {
			return fmt.Errorf("dtb: could not start DAQ channel 1: %w", err)
		}
	default:
		hal.msg.Printf("enabling deserializer160 for data acquisition, phase: %d", deser160Phase)
		err = hal.tb.DaqSelectDeser160(deser160Phase)
		if err != nil {
			return fmt.Errorf("dtb: could not select deser160: %w", err)
		}
	}

	err = hal.tb.DaqStart(0)
	if err != nil {
		return fmt.Errorf("dtb: could not start DAQ channel 0: %w", err)
	}
	err = hal.tb.UDelay(100)
	if err != nil {
		return fmt.Errorf("dtb: could not settle DAQ start: %w", err)
	}
	return hal.tb.Flush()
}

// DaqTrigger issues n single pattern generator cycles.
func (hal *HAL) DaqTrigger(n uint32) error {
	hal.msg.Printf("triggering %dx", n)
	for i := uint32(0); i < n; i++ {
		err := hal.tb.PgSingle()
		if err != nil {
			return fmt.Errorf("dtb: could not issue PG single (trigger %d): %w", i, err)
		}
		err = hal.tb.UDelay(20)
		if err != nil {
			return fmt.Errorf("dtb: could not space trigger %d: %w", i, err)
		}
	}
	return hal.tb.Flush()
}

// DaqStop stops the DAQ session. The acquired data stays in the sample
// buffers for DaqRead; a FIFO reset only happens on DaqReset.
func (hal *HAL) DaqStop(nTBMs int) error {
	hal.msg.Printf("stopped DAQ session, data still in buffers")
	if nTBMs > 0 {
		err := hal.tb.DaqStop(1)
		if err != nil {
			return fmt.Errorf("dtb: could not stop DAQ channel 1: %w", err)
		}
	}
	err := hal.tb.DaqStop(0)
	if err != nil {
		return fmt.Errorf("dtb: could not stop DAQ channel 0: %w", err)
	}
	return nil
}

// DaqRead drains the sample buffers of the active channels and returns
// the concatenated raw data words (channel 0 first).
func (hal *HAL) DaqRead(nTBMs int) ([]uint16, error) {
	data, err := hal.DaqReadChannel(0)
	if err != nil {
		return nil, err
	}
	if nTBMs > 0 {
		ch1, err := hal.DaqReadChannel(1)
		if err != nil {
			return nil, err
		}
		data = append(data, ch1...)
	}
	return data, nil
}

// DaqReadChannel drains one channel in chunks no larger than the
// maximum RPC transfer size. Decoding must know which channel the
// words came from: with TBMs each channel serves its own half of the
// token chain.
func (hal *HAL) DaqReadChannel(ch uint8) ([]uint16, error) {
	size, err := hal.tb.DaqGetSize(ch)
	if err != nil {
		return nil, fmt.Errorf("dtb: could not get DAQ buffer size of channel %d: %w", ch, err)
	}
	hal.msg.Printf("available data in channel %d: %d", ch, size)

	data := make([]uint16, 0, size)
	for {
		req := size
		if req > maxDaqTransfer {
			req = maxDaqTransfer
		}
		words, remaining, err := hal.tb.DaqRead(req, ch)
		if err != nil {
			return nil, fmt.Errorf("dtb: could not read DAQ channel %d: %w", ch, err)
		}
		data = append(data, words...)
		hal.msg.Printf("read %d data words in channel %d, %d words remaining in buffer",
			len(words), ch, remaining)
		if remaining == 0 {
			break
		}
		size = remaining
	}
	return data, nil
}

// DaqReset closes the DAQ session and deletes the sample buffers.
func (hal *HAL) DaqReset(nTBMs int) error {
	hal.msg.Printf("closing DAQ session, deleting data buffers")
	if nTBMs > 0 {
		err := hal.tb.DaqClose(1)
		if err != nil {
			return fmt.Errorf("dtb: could not close DAQ channel 1: %w", err)
		}
	}
	err := hal.tb.DaqClose(0)
	if err != nil {
		return fmt.Errorf("dtb: could not close DAQ channel 0: %w", err)
	}
	return nil
}
