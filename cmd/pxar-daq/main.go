// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pxar-daq drives a DTB data acquisition run in stand-alone
// mode: configure the testboard from a parameter file (or the
// conditions database), arm a calibrate pixel, trigger, read out and
// decode the samples.
package main // import "github.com/cfangmeier/pxar/cmd/pxar-daq"

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/cfangmeier/pxar/conddb"
	"github.com/cfangmeier/pxar/decoder"
	"github.com/cfangmeier/pxar/dtb"
	"github.com/cfangmeier/pxar/monitor"
	"golang.org/x/sync/errgroup"
)

// newUSB is provided by transport-specific builds.
var newUSB func(name string) (dtb.Testboard, error)

func main() {
	var (
		params = flag.String("p", "params.yaml", "testboard parameter file")
		dbname = flag.String("db", "", "conditions database (overrides ROC/TBM settings)")
		ntrigs = flag.Uint("n", 100, "number of triggers")
		col    = flag.Uint("col", 11, "column of the armed pixel")
		row    = flag.Uint("row", 20, "row of the armed pixel")
		odir   = flag.String("o", ".", "output dir")
		name   = flag.String("dtb", "", "name of the DTB to drive (default: first found)")
		sim    = flag.Bool("sim", false, "drive a simulated testboard")
	)

	log.SetPrefix("pxar-daq: ")
	log.SetFlags(0)

	flag.Parse()

	if *col >= 52 || *row >= 80 {
		log.Fatalf("invalid pixel address col=%d row=%d", *col, *row)
	}

	err := run(*params, *dbname, uint32(*ntrigs), uint8(*col), uint8(*row), *odir, *name, *sim)
	if err != nil {
		log.Fatalf("could not run DAQ: %+v", err)
	}
}

func run(fname, dbname string, ntrigs uint32, col, row uint8, odir, name string, sim bool) error {
	var (
		tb  dtb.Testboard
		err error
	)
	switch {
	case sim:
		tb = dtb.NewSimulator("DTB_SIM1")
	case newUSB != nil:
		tb, err = newUSB(name)
		if err != nil {
			return fmt.Errorf("could not open USB transport: %w", err)
		}
	default:
		return fmt.Errorf("no USB transport in this build, use -sim")
	}

	params, err := dtb.LoadParams(fname)
	if err != nil {
		return fmt.Errorf("could not load parameter file: %w", err)
	}

	hal, err := dtb.New(tb, dtb.WithName(name))
	if err != nil {
		return fmt.Errorf("could not open DTB: %w", err)
	}
	defer hal.Close()

	var (
		db       *conddb.DB
		detector string
		runnbr   int64
	)
	if dbname != "" {
		db, err = conddb.Open(dbname)
		if err != nil {
			return fmt.Errorf("could not open conddb: %w", err)
		}
		defer db.Close()

		detector, err = loadDBConfig(db, &params)
		if err != nil {
			return err
		}
	}

	setup, err := params.Setup()
	if err != nil {
		return fmt.Errorf("could not assemble testboard setup: %w", err)
	}

	err = hal.Init(setup)
	if err != nil {
		return fmt.Errorf("could not initialize DTB: %w", err)
	}

	ntbms := 0
	if params.TBM.Enabled {
		regs, err := params.TBMRegs()
		if err != nil {
			return fmt.Errorf("could not resolve TBM registers: %w", err)
		}
		err = hal.InitTBM(0, regs)
		if err != nil {
			return fmt.Errorf("could not initialize TBM: %w", err)
		}
		ntbms = 1
	}

	for _, roc := range params.ROCs {
		dacs, err := roc.DACRegs()
		if err != nil {
			return fmt.Errorf("could not resolve DAC settings of ROC %d: %w", roc.ID, err)
		}
		err = hal.InitROC(roc.ID, dacs)
		if err != nil {
			return fmt.Errorf("could not initialize ROC %d: %w", roc.ID, err)
		}
		err = hal.RocSetMask(roc.ID, false, nil)
		if err != nil {
			return fmt.Errorf("could not unmask ROC %d: %w", roc.ID, err)
		}
		err = hal.PixelSetCalibrate(roc.ID, col, row, 0)
		if err != nil {
			return fmt.Errorf("could not arm pixel (%d,%d) of ROC %d: %w", col, row, roc.ID, err)
		}
	}

	err = hal.POn()
	if err != nil {
		return fmt.Errorf("could not power on DUT: %w", err)
	}
	defer func() { _ = hal.POff() }()

	if db != nil {
		runnbr, err = bookRun(db, detector, ntrigs)
		if err != nil {
			return err
		}
		log.Printf("run number: %d", runnbr)
	}
	log.Printf("run started")

	mon := monitor.New(hal,
		monitor.WithLogger(log.Default()),
		monitor.WithPeriod(500*time.Millisecond),
	)

	channels, err := daq(hal, mon, setup.Delays[dtb.SigDeser160Phase], ntbms, ntrigs)
	if err != nil {
		return err
	}

	stats, err := process(channels, params, ntbms, odir, runnbr)
	if err != nil {
		return err
	}

	err = writeSummaries(mon, filepath.Join(odir, fmt.Sprintf("pxar_%06d.yoda", runnbr)))
	if err != nil {
		return err
	}

	if db != nil {
		var words uint64
		for _, data := range channels {
			words += uint64(len(data))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = db.CloseRun(ctx, runnbr, words, stats.Errors())
		if err != nil {
			return fmt.Errorf("could not close run %d: %w", runnbr, err)
		}
	}
	return nil
}

// loadDBConfig replaces the ROC and TBM settings of params with the
// latest detector configuration stored in the conditions database and
// returns the detector name.
func loadDBConfig(db *conddb.DB, params *dtb.Params) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	detector, err := db.LastDetectorName(ctx)
	if err != nil {
		return "", fmt.Errorf("could not get detector name: %w", err)
	}
	log.Printf("detector: %q", detector)

	rocs, err := db.ROCConfig(ctx, detector)
	if err != nil {
		return "", fmt.Errorf("could not get ROC cfg: %w", err)
	}
	params.ROCs = params.ROCs[:0]
	for _, roc := range rocs {
		params.ROCs = append(params.ROCs, dtb.ROCParams{
			ID:   roc.I2C,
			DACs: dbDACNames(roc),
			Trim: roc.Trim,
		})
	}

	tbm, err := db.TBMConfig(ctx, detector)
	if err != nil {
		return "", fmt.Errorf("could not get TBM cfg: %w", err)
	}
	params.TBM.Enabled = tbm != nil
	if tbm != nil {
		params.TBM.Regs = dbTBMNames(*tbm)
	}
	return detector, nil
}

func dbDACNames(roc conddb.ROC) map[string]uint8 {
	return map[string]uint8{
		"vdig":       roc.Vdig,
		"vana":       roc.Vana,
		"vsh":        roc.Vsh,
		"vcomp":      roc.Vcomp,
		"vwllpr":     roc.Vwllpr,
		"vwllsh":     roc.Vwllsh,
		"vhlddel":    roc.Vhlddel,
		"vtrim":      roc.Vtrim,
		"vthrcomp":   roc.Vthrcomp,
		"vibias_bus": roc.VibiasBus,
		"vbias_sf":   roc.VbiasSf,
		"voffsetop":  roc.Voffsetop,
		"voffsetro":  roc.Voffsetro,
		"vion":       roc.Vion,
		"vcomp_adc":  roc.VcompADC,
		"phoffset":   roc.PHOffset,
		"phscale":    roc.PHScale,
		"vicolor":    roc.Vicolor,
		"vcal":       roc.Vcal,
		"caldel":     roc.CalDel,
		"ctrlreg":    roc.CtrlReg,
		"wbc":        roc.WBC,
	}
}

func dbTBMNames(tbm conddb.TBM) map[string]uint8 {
	return map[string]uint8{
		"base0": tbm.Base0,
		"base2": tbm.Base2,
		"base4": tbm.Base4,
		"base8": tbm.Base8,
		"basea": tbm.BaseA,
		"basec": tbm.BaseC,
		"basee": tbm.BaseE,
	}
}

func bookRun(db *conddb.DB, detector string, ntrigs uint32) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	number, err := db.NewRun(ctx, &conddb.Run{
		Detector:  detector,
		Start:     time.Now().UTC(),
		NTriggers: ntrigs,
		Comment:   "pxar-daq stand-alone run",
	})
	if err != nil {
		return 0, fmt.Errorf("could not book new run: %w", err)
	}
	return number, nil
}

// daq runs one DAQ session, sampling the DUT currents in the
// background, and returns the drained raw data, one slice per DAQ
// channel.
func daq(hal *dtb.HAL, mon *monitor.Monitor, phase uint8, ntbms int, ntrigs uint32) ([][]uint16, error) {
	err := hal.DaqStart(phase, ntbms)
	if err != nil {
		return nil, fmt.Errorf("could not start DAQ session: %w", err)
	}
	defer func() { _ = hal.DaqReset(ntbms) }()

	ctx, cancel := context.WithCancel(context.Background())
	var grp errgroup.Group
	grp.Go(func() error { return mon.Run(ctx) })

	err = hal.DaqTrigger(ntrigs)
	cancel()
	_ = grp.Wait()
	if err != nil {
		return nil, fmt.Errorf("could not send triggers: %w", err)
	}

	err = hal.DaqStop(ntbms)
	if err != nil {
		return nil, fmt.Errorf("could not stop DAQ session: %w", err)
	}

	nch := 1
	if ntbms > 0 {
		nch = 2
	}
	channels := make([][]uint16, nch)
	for ch := range channels {
		data, err := hal.DaqReadChannel(uint8(ch))
		if err != nil {
			return nil, fmt.Errorf("could not read DAQ channel %d: %w", ch, err)
		}
		log.Printf("read %d raw words in channel %d", len(data), ch)
		channels[ch] = data
	}
	return channels, nil
}

// process writes the raw data to disk, decodes it channel by channel
// and writes the decoded events and the decoding statistics report.
// With a TBM each channel serves its own half of the token chain, so
// channel 1 pixels decode with a ROC offset.
func process(channels [][]uint16, params dtb.Params, ntbms int, odir string, runnbr int64) (decoder.Statistics, error) {
	var stats decoder.Statistics

	prefix := filepath.Join(odir, fmt.Sprintf("pxar_%06d", runnbr))
	var all []uint16
	for _, data := range channels {
		all = append(all, data...)
	}
	err := writeRaw(prefix+".raw", all)
	if err != nil {
		return stats, err
	}

	env := decoder.EnvNone
	chain := len(params.ROCs)
	if ntbms > 0 {
		env = decoder.EnvTBM08
		chain = (len(params.ROCs) + 1) / 2
	}
	if chain < 1 {
		chain = 1
	}

	out, err := os.Create(prefix + ".txt")
	if err != nil {
		return stats, fmt.Errorf("could not create decoded output file: %w", err)
	}
	defer out.Close()

	for ch, data := range channels {
		var (
			src = decoder.Words(data)
			sp  = decoder.NewSplitter(&src, env, uint8(ch))
			dec = decoder.NewDecoder(
				decoder.WithEnvelope(env),
				decoder.WithChannel(uint8(ch)),
				decoder.WithTokenChain(chain),
				decoder.WithChainOffset(chain*ch),
			)
		)
		for {
			raw, err := sp.Next()
			if err != nil {
				break
			}
			evt, err := dec.Decode(raw)
			if err != nil {
				log.Printf("could not decode event: %+v", err)
				continue
			}
			for _, pix := range evt.Pixels {
				fmt.Fprintf(out, "%d %v\n", evt.EventID(), pix)
			}
		}
		stats.Add(dec.Statistics())
	}

	log.Printf("decoding statistics:\n%v", stats)
	return stats, nil
}

func writeSummaries(mon *monitor.Monitor, fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create summary file: %w", err)
	}
	defer f.Close()

	err = mon.DumpSummaries(f)
	if err != nil {
		return fmt.Errorf("could not dump current summaries: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close summary file: %w", err)
	}
	return nil
}

func writeRaw(fname string, data []uint16) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create raw output file: %w", err)
	}
	defer f.Close()

	err = binary.Write(f, binary.LittleEndian, data)
	if err != nil {
		return fmt.Errorf("could not write raw data: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close raw output file: %w", err)
	}
	return nil
}
