// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	ia  []float64
	id  []float64
	i   int
	err error
}

func (src *fakeSource) TBia() (float64, error) {
	if src.err != nil {
		return 0, src.err
	}
	return src.ia[src.i], nil
}

func (src *fakeSource) TBid() (float64, error) {
	if src.err != nil {
		return 0, src.err
	}
	defer func() { src.i++ }()
	return src.id[src.i], nil
}

func newTestMonitor(src Source, opts ...Option) *Monitor {
	opts = append([]Option{WithLogger(log.New(io.Discard, "", 0))}, opts...)
	return New(src, opts...)
}

func TestUpdate(t *testing.T) {
	src := &fakeSource{
		ia: []float64{0.512, 0.514},
		id: []float64{0.398, 0.401},
	}
	mon := newTestMonitor(src)

	for i := 0; i < 2; i++ {
		err := mon.Update()
		if err != nil {
			t.Fatalf("could not sample currents: %+v", err)
		}
	}

	meas := mon.Measurements()
	if got, want := len(meas), 2; got != want {
		t.Fatalf("invalid number of measurements: got=%d, want=%d", got, want)
	}
	if got, want := meas[0].Ia, 0.512; got != want {
		t.Fatalf("invalid ia: got=%v, want=%v", got, want)
	}
	if got, want := meas[1].Id, 0.401; got != want {
		t.Fatalf("invalid id: got=%v, want=%v", got, want)
	}

	if got, want := testutil.ToFloat64(mon.gIa), 0.514; got != want {
		t.Fatalf("invalid ia gauge: got=%v, want=%v", got, want)
	}
	if got, want := testutil.ToFloat64(mon.gId), 0.401; got != want {
		t.Fatalf("invalid id gauge: got=%v, want=%v", got, want)
	}
}

func TestUpdateError(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("boom")}
	mon := newTestMonitor(src)

	err := mon.Update()
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "monitor: could not read analog current: boom"; got != want {
		t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
	}
}

func TestOvercurrent(t *testing.T) {
	src := &fakeSource{
		ia: []float64{0.3, 0.9},
		id: []float64{0.2, 0.2},
	}

	var alerts []string
	mon := newTestMonitor(src,
		WithCurrentLimits(0.6, 0.5),
		WithAlert(func(msg string) { alerts = append(alerts, msg) }),
	)

	for i := 0; i < 2; i++ {
		err := mon.Update()
		if err != nil {
			t.Fatalf("could not sample currents: %+v", err)
		}
	}

	if got, want := len(alerts), 1; got != want {
		t.Fatalf("invalid number of alerts: got=%d, want=%d", got, want)
	}
	if !strings.Contains(alerts[0], "analog overcurrent") {
		t.Fatalf("invalid alert: %q", alerts[0])
	}
}

func TestRun(t *testing.T) {
	src := &fakeSource{
		ia: make([]float64, 100),
		id: make([]float64, 100),
	}
	mon := newTestMonitor(src, WithPeriod(1*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := mon.Run(ctx)
	if err != nil {
		t.Fatalf("could not run monitor: %+v", err)
	}

	if got := len(mon.Measurements()); got == 0 {
		t.Fatalf("expected measurements")
	}
}

func TestDumpSummaries(t *testing.T) {
	src := &fakeSource{
		ia: []float64{0.512, 0.514},
		id: []float64{0.398, 0.401},
	}
	mon := newTestMonitor(src)

	for i := 0; i < 2; i++ {
		err := mon.Update()
		if err != nil {
			t.Fatalf("could not sample currents: %+v", err)
		}
	}

	buf := new(bytes.Buffer)
	err := mon.DumpSummaries(buf)
	if err != nil {
		t.Fatalf("could not dump summaries: %+v", err)
	}

	out := buf.String()
	for _, want := range []string{"ha", "hd"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing histogram %q in summary:\n%s", want, out)
		}
	}
}

func TestDumpSummariesEmpty(t *testing.T) {
	mon := newTestMonitor(&fakeSource{})

	buf := new(bytes.Buffer)
	err := mon.DumpSummaries(buf)
	if err != nil {
		t.Fatalf("could not dump summaries: %+v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected empty summary, got:\n%s", buf.String())
	}
}

func TestMetricsHandler(t *testing.T) {
	mon := newTestMonitor(&fakeSource{ia: []float64{0.5}, id: []float64{0.4}})
	if mon.MetricsHandler() == nil {
		t.Fatalf("expected a metrics handler")
	}
}
