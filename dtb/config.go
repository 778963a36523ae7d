// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params is the on-disk testboard parameter file, the file-based
// counterpart of the conditions database. Registers and signals are
// addressed by name and resolved against the dictionaries of this
// package.
type Params struct {
	Power struct {
		VA float64 `yaml:"va"` // analog voltage, in V
		VD float64 `yaml:"vd"` // digital voltage, in V
		IA float64 `yaml:"ia"` // analog current limit, in A
		ID float64 `yaml:"id"` // digital current limit, in A
	} `yaml:"power"`

	Delays map[string]uint8 `yaml:"delays"`

	PG []struct {
		Signals []string `yaml:"signals"`
		Delay   uint8    `yaml:"delay"`
	} `yaml:"pattern_generator"`

	ROCs []ROCParams `yaml:"rocs"`

	TBM struct {
		Enabled bool             `yaml:"enabled"`
		Regs    map[string]uint8 `yaml:"regs"`
	} `yaml:"tbm"`
}

// ROCParams holds the per-ROC DAC settings and the default trim value.
type ROCParams struct {
	ID   uint8            `yaml:"id"`
	DACs map[string]uint8 `yaml:"dacs"`
	Trim uint8            `yaml:"trim"`
}

var pgSignals = map[string]uint16{
	"tok":  PGTok,
	"trg":  PGTrg,
	"cal":  PGCal,
	"resr": PGResR,
	"rest": PGResT,
	"sync": PGSync,
}

// LoadParams reads a testboard parameter file.
func LoadParams(fname string) (Params, error) {
	var p Params
	raw, err := os.ReadFile(fname)
	if err != nil {
		return p, fmt.Errorf("dtb: could not read parameter file %q: %w", fname, err)
	}
	err = yaml.Unmarshal(raw, &p)
	if err != nil {
		return p, fmt.Errorf("dtb: could not parse parameter file %q: %w", fname, err)
	}
	return p, nil
}

// Setup resolves the parameter file into the register-level setup
// applied by HAL.Init.
func (p Params) Setup() (Setup, error) {
	setup := Setup{
		VA: p.Power.VA,
		VD: p.Power.VD,
		IA: p.Power.IA,
		ID: p.Power.ID,

		Delays: make(map[uint8]uint8, len(p.Delays)),
	}

	for name, v := range p.Delays {
		sig, err := SigID(name)
		if err != nil {
			return setup, err
		}
		setup.Delays[sig] = v
	}

	for i, e := range p.PG {
		var pat uint16
		for _, name := range e.Signals {
			bit, ok := pgSignals[name]
			if !ok {
				return setup, fmt.Errorf("dtb: unknown PG signal %q in entry %d", name, i)
			}
			pat |= bit
		}
		setup.PG = append(setup.PG, PGEntry{Pattern: pat, Delay: e.Delay})
	}

	return setup, nil
}

// DACRegs resolves the DAC settings of one ROC into register id/value
// pairs.
func (rp ROCParams) DACRegs() (map[uint8]uint8, error) {
	regs := make(map[uint8]uint8, len(rp.DACs))
	for name, v := range rp.DACs {
		id, err := DACID(name)
		if err != nil {
			return nil, err
		}
		regs[id] = v
	}
	return regs, nil
}

// TBMRegs resolves the TBM register settings into id/value pairs.
func (p Params) TBMRegs() (map[uint8]uint8, error) {
	regs := make(map[uint8]uint8, len(p.TBM.Regs))
	for name, v := range p.TBM.Regs {
		id, err := TBMRegID(name)
		if err != nil {
			return nil, err
		}
		regs[id] = v
	}
	return regs, nil
}
