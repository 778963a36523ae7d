// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pxar-sql inspects the testbench conditions database.
package main // import "github.com/cfangmeier/pxar/cmd/pxar-sql"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/cfangmeier/pxar/conddb"
)

const (
	dbname = "pxarsrv"
)

func main() {
	log.SetPrefix("pxar-sql: ")
	log.SetFlags(0)

	var (
		detector = flag.String("det", "", "detector configuration to inspect")
	)

	flag.Parse()

	db, err := conddb.Open(dbname)
	if err != nil {
		log.Fatalf("could not open pxar db: %+v", err)
	}
	defer db.Close()

	err = doQuery(db, *detector)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func doQuery(db *conddb.DB, detector string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if detector == "" {
		v, err := db.LastDetectorName(ctx)
		if err != nil {
			return fmt.Errorf("could not get last detector name: %w", err)
		}
		detector = v
	}
	log.Printf("detector: %q", detector)

	rocs, err := db.ROCConfig(ctx, detector)
	if err != nil {
		return fmt.Errorf("could not get ROC cfg (det=%q): %w", detector, err)
	}
	log.Printf("rocs: %d", len(rocs))
	for _, roc := range rocs {
		log.Printf(" i2c=%02d flavor=%-18s vana=%3d vcal=%3d caldel=%3d wbc=%3d trim=%2d",
			roc.I2C, roc.Flavor, roc.Vana, roc.Vcal, roc.CalDel, roc.WBC, roc.Trim,
		)
	}

	tbm, err := db.TBMConfig(ctx, detector)
	if err != nil {
		return fmt.Errorf("could not get TBM cfg (det=%q): %w", detector, err)
	}
	switch {
	case tbm == nil:
		log.Printf("tbm: none (single-chip setup)")
	default:
		log.Printf("tbm: base0=0x%02x base2=0x%02x base4=0x%02x base8=0x%02x basea=0x%02x basec=0x%02x basee=0x%02x",
			tbm.Base0, tbm.Base2, tbm.Base4, tbm.Base8, tbm.BaseA, tbm.BaseC, tbm.BaseE,
		)
	}

	number, err := db.LastRunNumber(ctx)
	if err != nil {
		return fmt.Errorf("could not get last run number: %w", err)
	}
	log.Printf("last run: %d", number)

	return nil
}
