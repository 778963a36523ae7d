// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and
// configuration database of the pixel detector testbench: the DAC and
// trim settings of the readout chips, the TBM register settings and
// the run bookkeeping.
package conddb // import "github.com/cfangmeier/pxar/conddb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to retrieve conditions data and
// configuration data from the testbench database.
type DB struct {
	db   *sqlx.DB
	name string
}

// Open opens a connection to the testbench database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sqlx.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sqlx.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// LastDetectorName returns the name of the detector configuration
// most recently added to the database.
func (db *DB) LastDetectorName(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var name string
	err := db.db.GetContext(
		ctx, &name,
		"SELECT name FROM detectors ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return name, fmt.Errorf("conddb: could not query detector name: %w", err)
	}
	return name, nil
}

// ROCConfig returns the readout chip configurations of the named
// detector, ordered along the token chain.
func (db *DB) ROCConfig(ctx context.Context, detector string) ([]ROC, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cfg []ROC
	err := db.db.SelectContext(
		ctx, &cfg,
		`
SELECT rocs.* FROM rocs
JOIN detector_rocs ON rocs.identifier=detector_rocs.roc
JOIN detectors     ON detectors.identifier=detector_rocs.detector
WHERE detectors.name=?
ORDER BY rocs.i2c
`,
		detector,
	)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not run ROC cfg query: %w", err)
	}
	return cfg, nil
}

// TBMConfig returns the TBM register settings of the named detector,
// or a nil TBM for single-chip setups without one.
func (db *DB) TBMConfig(ctx context.Context, detector string) (*TBM, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cfg TBM
	err := db.db.GetContext(
		ctx, &cfg,
		`
SELECT tbms.* FROM tbms
JOIN detectors ON detectors.tbm=tbms.identifier
WHERE detectors.name=?
`,
		detector,
	)
	switch {
	case err == nil:
		return &cfg, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	default:
		return nil, fmt.Errorf("conddb: could not run TBM cfg query: %w", err)
	}
}

// LastRunNumber returns the number of the most recent run, or 0 for a
// pristine database.
func (db *DB) LastRunNumber(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var number int64
	err := db.db.GetContext(
		ctx, &number,
		"SELECT number FROM runs ORDER BY number DESC LIMIT 1",
	)
	switch {
	case err == nil:
		return number, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	default:
		return 0, fmt.Errorf("conddb: could not query last run number: %w", err)
	}
}

// NewRun books a new run and returns its number.
func (db *DB) NewRun(ctx context.Context, run *Run) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := db.db.ExecContext(
		ctx,
		`
INSERT INTO runs (detector, start, ntriggers, comment)
VALUES (?, ?, ?, ?)
`,
		run.Detector, run.Start, run.NTriggers, run.Comment,
	)
	if err != nil {
		return 0, fmt.Errorf("conddb: could not book new run: %w", err)
	}

	number, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("conddb: could not get new run number: %w", err)
	}
	return number, nil
}

// CloseRun records the end of a run together with its data accounting.
func (db *DB) CloseRun(ctx context.Context, number int64, words, errs uint64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"UPDATE runs SET stop=?, words=?, errors=? WHERE number=?",
		time.Now().UTC(), words, errs, number,
	)
	if err != nil {
		return fmt.Errorf("conddb: could not close run %d: %w", number, err)
	}
	return nil
}
