// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package conddb

import (
	"time"
)

// Run is the bookkeeping record of one data taking run.
type Run struct {
	Number    int64     `db:"number" json:"number"`
	Detector  string    `db:"detector" json:"detector"`
	Start     time.Time `db:"start" json:"start"`
	Stop      time.Time `db:"stop" json:"stop"`
	NTriggers uint32    `db:"ntriggers" json:"ntriggers"`
	Words     uint64    `db:"words" json:"words"`   // raw sample words recorded
	Errors    uint64    `db:"errors" json:"errors"` // decoding errors seen
	Comment   string    `db:"comment" json:"comment"`
}
