// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb // import "github.com/cfangmeier/pxar/conddb"

import (
	"fmt"

	"github.com/cfangmeier/pxar/dtb"
)

// ROC flavors, ordered by generation.
const (
	FlavorPSI46Dig     = "psi46dig"
	FlavorPSI46DigV2   = "psi46digv2"
	FlavorPSI46DigV21R = "psi46digv2.1respin"
)

// ROC is the database record of one readout chip configuration: its
// position on the token chain and the full DAC vector.
type ROC struct {
	PrimaryID int32  `db:"identifier" json:"identifier"`
	I2C       uint8  `db:"i2c" json:"i2c"`
	Flavor    string `db:"flavor" json:"flavor"`

	Vdig      uint8 `db:"vdig" json:"vdig"`
	Vana      uint8 `db:"vana" json:"vana"`
	Vsh       uint8 `db:"vsh" json:"vsh"`
	Vcomp     uint8 `db:"vcomp" json:"vcomp"`
	Vwllpr    uint8 `db:"vwllpr" json:"vwllpr"`
	Vwllsh    uint8 `db:"vwllsh" json:"vwllsh"`
	Vhlddel   uint8 `db:"vhlddel" json:"vhlddel"`
	Vtrim     uint8 `db:"vtrim" json:"vtrim"`
	Vthrcomp  uint8 `db:"vthrcomp" json:"vthrcomp"`
	VibiasBus uint8 `db:"vibias_bus" json:"vibias_bus"`
	VbiasSf   uint8 `db:"vbias_sf" json:"vbias_sf"`
	Voffsetop uint8 `db:"voffsetop" json:"voffsetop"`
	Voffsetro uint8 `db:"voffsetro" json:"voffsetro"`
	Vion      uint8 `db:"vion" json:"vion"`
	VcompADC  uint8 `db:"vcomp_adc" json:"vcomp_adc"`
	PHOffset  uint8 `db:"phoffset" json:"phoffset"`
	PHScale   uint8 `db:"phscale" json:"phscale"`
	Vicolor   uint8 `db:"vicolor" json:"vicolor"`
	Vcal      uint8 `db:"vcal" json:"vcal"`
	CalDel    uint8 `db:"caldel" json:"caldel"`
	CtrlReg   uint8 `db:"ctrlreg" json:"ctrlreg"`
	WBC       uint8 `db:"wbc" json:"wbc"`

	Trim uint8 `db:"trim" json:"trim"` // default trim value of the chip
}

// DACRegs returns the DAC vector as register id/value pairs, resolved
// through the register dictionary.
func (roc ROC) DACRegs() (map[uint8]uint8, error) {
	dacs := map[string]uint8{
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

	regs := make(map[uint8]uint8, len(dacs))
	for name, v := range dacs {
		id, err := dtb.DACID(name)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not resolve DAC vector of ROC %d: %w", roc.I2C, err)
		}
		regs[id] = v
	}
	return regs, nil
}

// InvertedAddress reports whether the chip flavor transmits flipped
// row addresses.
func (roc ROC) InvertedAddress() bool {
	return roc.Flavor == FlavorPSI46Dig
}

// HasReadback reports whether the chip flavor carries readback bits
// in its headers.
func (roc ROC) HasReadback() bool {
	return roc.Flavor != FlavorPSI46Dig
}

// TBM is the database record of a token bit manager configuration.
// A register write goes to both cores.
type TBM struct {
	PrimaryID int32 `db:"identifier" json:"identifier"`

	Base0 uint8 `db:"base0" json:"base0"`
	Base2 uint8 `db:"base2" json:"base2"`
	Base4 uint8 `db:"base4" json:"base4"`
	Base8 uint8 `db:"base8" json:"base8"`
	BaseA uint8 `db:"basea" json:"basea"`
	BaseC uint8 `db:"basec" json:"basec"`
	BaseE uint8 `db:"basee" json:"basee"`
}

// Regs returns the register settings as id/value pairs, resolved
// through the register dictionary.
func (tbm TBM) Regs() (map[uint8]uint8, error) {
	regs := map[string]uint8{
		"base0": tbm.Base0,
		"base2": tbm.Base2,
		"base4": tbm.Base4,
		"base8": tbm.Base8,
		"basea": tbm.BaseA,
		"basec": tbm.BaseC,
		"basee": tbm.BaseE,
	}

	out := make(map[uint8]uint8, len(regs))
	for name, v := range regs {
		id, err := dtb.TBMRegID(name)
		if err != nil {
			return nil, fmt.Errorf("conddb: could not resolve TBM register vector: %w", err)
		}
		out[id] = v
	}
	return out, nil
}
