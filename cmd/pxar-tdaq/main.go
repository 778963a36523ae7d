// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pxar-tdaq starts a TDAQ server driving a DTB testboard.
// Decoded pixel events are published on the /pixels output stream.
package main // import "github.com/cfangmeier/pxar/cmd/pxar-tdaq"

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"

	"github.com/cfangmeier/pxar/decoder"
	"github.com/cfangmeier/pxar/dtb"
)

func main() {
	cmd := flags.New()
	if len(cmd.Args) == 0 {
		log.Fatalf("missing path to testboard parameter file")
	}

	dev := device{
		params: cmd.Args[0],
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/pixels", dev.pixels)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

// event is the JSON payload published on the /pixels stream.
type event struct {
	ID     uint8       `json:"id"`
	Pixels []dtb.Pixel `json:"pixels"`
}

type device struct {
	params string
	cfg    dtb.Params
	phase  uint8
	ntbms  int

	hal *dtb.HAL
	dec []*decoder.Decoder

	running atomic.Bool
	data    chan []byte
}

func (dev *device) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	cfg, err := dtb.LoadParams(dev.params)
	if err != nil {
		return err
	}
	dev.cfg = cfg
	return nil
}

func (dev *device) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	setup, err := dev.cfg.Setup()
	if err != nil {
		return err
	}

	hal, err := dtb.New(dtb.NewSimulator("DTB_SIM1"))
	if err != nil {
		return err
	}
	dev.hal = hal

	err = hal.Init(setup)
	if err != nil {
		return err
	}

	dev.ntbms = 0
	if dev.cfg.TBM.Enabled {
		regs, err := dev.cfg.TBMRegs()
		if err != nil {
			return err
		}
		err = hal.InitTBM(0, regs)
		if err != nil {
			return err
		}
		dev.ntbms = 1
	}

	for _, roc := range dev.cfg.ROCs {
		dacs, err := roc.DACRegs()
		if err != nil {
			return err
		}
		err = hal.InitROC(roc.ID, dacs)
		if err != nil {
			return err
		}
		err = hal.RocSetMask(roc.ID, false, nil)
		if err != nil {
			return err
		}
	}

	err = hal.POn()
	if err != nil {
		return err
	}

	dev.phase = setup.Delays[dtb.SigDeser160Phase]
	dev.data = make(chan []byte, 1024)
	dev.newDecoders()
	return nil
}

// newDecoders builds one decoder per DAQ channel. With a TBM each
// channel serves one half of the token chain, so channel 1 carries a
// ROC id offset.
func (dev *device) newDecoders() {
	var (
		env   = decoder.EnvNone
		chain = len(dev.cfg.ROCs)
		nch   = 1
	)
	if dev.ntbms > 0 {
		env = decoder.EnvTBM08
		chain = (len(dev.cfg.ROCs) + 1) / 2
		nch = 2
	}
	if chain < 1 {
		chain = 1
	}
	dev.dec = make([]*decoder.Decoder, nch)
	for ch := range dev.dec {
		dev.dec[ch] = decoder.NewDecoder(
			decoder.WithEnvelope(env),
			decoder.WithChannel(uint8(ch)),
			decoder.WithTokenChain(chain),
			decoder.WithChainOffset(chain*ch),
		)
	}
}

func (dev *device) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	dev.running.Store(false)
	dev.newDecoders()
	if dev.hal != nil {
		return dev.hal.DaqReset(dev.ntbms)
	}
	return nil
}

func (dev *device) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	err := dev.hal.DaqStart(dev.phase, dev.ntbms)
	if err != nil {
		return err
	}
	dev.running.Store(true)
	return nil
}

func (dev *device) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")

	dev.running.Store(false)
	err := dev.hal.DaqStop(dev.ntbms)
	if err != nil {
		return err
	}

	var stats decoder.Statistics
	for _, dec := range dev.dec {
		stats.Add(dec.Statistics())
	}
	ctx.Msg.Infof("decoding statistics:\n%v", stats)
	return nil
}

func (dev *device) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if dev.hal == nil {
		return nil
	}
	err := dev.hal.POff()
	if err != nil {
		return err
	}
	return dev.hal.Close()
}

func (dev *device) pixels(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

func (dev *device) run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		default:
			if !dev.running.Load() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			err := dev.cycle(ctx)
			if err != nil {
				ctx.Msg.Warnf("could not run DAQ cycle: %+v", err)
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// cycle sends one trigger burst, drains the sample buffers and
// publishes the decoded events.
func (dev *device) cycle(ctx tdaq.Context) error {
	err := dev.hal.DaqTrigger(10)
	if err != nil {
		return err
	}

	env := decoder.EnvNone
	if dev.ntbms > 0 {
		env = decoder.EnvTBM08
	}

	for ch, dec := range dev.dec {
		data, err := dev.hal.DaqReadChannel(uint8(ch))
		if err != nil {
			return err
		}

		var (
			src = decoder.Words(data)
			sp  = decoder.NewSplitter(&src, env, uint8(ch))
		)
		for {
			raw, err := sp.Next()
			if err != nil {
				break
			}
			evt, err := dec.Decode(raw)
			if err != nil {
				ctx.Msg.Warnf("could not decode event: %+v", err)
				continue
			}

			body, err := json.Marshal(event{ID: evt.EventID(), Pixels: evt.Pixels})
			if err != nil {
				return err
			}
			select {
			case dev.data <- body:
			default:
				// slow consumer, drop
			}
		}
	}
	return nil
}
