// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor samples the analog and digital currents drawn by
// the device under test and keeps a time series of the measurements,
// both as live Prometheus gauges and as end-of-run histogram
// summaries.
package monitor // import "github.com/cfangmeier/pxar/monitor"

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go-hep.org/x/hep/hbook"
	"go-hep.org/x/hep/hbook/yodacnv"
)

// Source provides the current measurements of the testboard.
type Source interface {
	TBia() (float64, error) // analog current, in A
	TBid() (float64, error) // digital current, in A
}

// Measurement is one timestamped sample of the analog and digital
// currents.
type Measurement struct {
	When time.Time `json:"when"`
	Ia   float64   `json:"ia"`
	Id   float64   `json:"id"`
}

// Monitor periodically samples the currents of a testboard.
type Monitor struct {
	msg  *log.Logger
	src  Source
	freq time.Duration

	maxIa float64 // overcurrent threshold, 0 disables
	maxId float64
	alert func(msg string)

	mu   sync.Mutex
	meas []Measurement

	reg *prometheus.Registry
	gIa prometheus.Gauge
	gId prometheus.Gauge
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger used by the monitor.
func WithLogger(msg *log.Logger) Option {
	return func(mon *Monitor) {
		mon.msg = msg
	}
}

// WithPeriod sets the sampling period of the Run loop.
func WithPeriod(freq time.Duration) Option {
	return func(mon *Monitor) {
		mon.freq = freq
	}
}

// WithCurrentLimits sets the overcurrent thresholds (in A) above
// which the alert function is invoked. A zero threshold disables the
// check for that channel.
func WithCurrentLimits(ia, id float64) Option {
	return func(mon *Monitor) {
		mon.maxIa = ia
		mon.maxId = id
	}
}

// WithAlert sets the function invoked on overcurrent.
func WithAlert(f func(msg string)) Option {
	return func(mon *Monitor) {
		mon.alert = f
	}
}

// New creates a monitor sampling currents from src.
func New(src Source, opts ...Option) *Monitor {
	mon := &Monitor{
		msg:  log.New(os.Stdout, "monitor: ", 0),
		src:  src,
		freq: 1 * time.Second,
		reg:  prometheus.NewRegistry(),
		gIa: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pxar_analog_current_amps",
			Help: "Analog current drawn by the device under test.",
		}),
		gId: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pxar_digital_current_amps",
			Help: "Digital current drawn by the device under test.",
		}),
	}
	for _, opt := range opts {
		opt(mon)
	}
	mon.reg.MustRegister(mon.gIa, mon.gId)
	return mon
}

// Update takes one sample of the analog and digital currents.
func (mon *Monitor) Update() error {
	ia, err := mon.src.TBia()
	if err != nil {
		return fmt.Errorf("monitor: could not read analog current: %w", err)
	}
	id, err := mon.src.TBid()
	if err != nil {
		return fmt.Errorf("monitor: could not read digital current: %w", err)
	}

	mon.gIa.Set(ia)
	mon.gId.Set(id)

	mon.mu.Lock()
	mon.meas = append(mon.meas, Measurement{When: time.Now(), Ia: ia, Id: id})
	mon.mu.Unlock()

	if mon.maxIa > 0 && ia > mon.maxIa {
		mon.warn(fmt.Sprintf("analog overcurrent: ia=%g A (limit %g A)", ia, mon.maxIa))
	}
	if mon.maxId > 0 && id > mon.maxId {
		mon.warn(fmt.Sprintf("digital overcurrent: id=%g A (limit %g A)", id, mon.maxId))
	}
	return nil
}

func (mon *Monitor) warn(msg string) {
	mon.msg.Printf("%s", msg)
	if mon.alert != nil {
		mon.alert(msg)
	}
}

// Run samples the currents at the configured period until ctx is
// cancelled.
func (mon *Monitor) Run(ctx context.Context) error {
	tick := time.NewTicker(mon.freq)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			err := mon.Update()
			if err != nil {
				mon.msg.Printf("could not sample currents: %+v", err)
			}
		}
	}
}

// Measurements returns a copy of the samples taken so far.
func (mon *Monitor) Measurements() []Measurement {
	mon.mu.Lock()
	defer mon.mu.Unlock()

	meas := make([]Measurement, len(mon.meas))
	copy(meas, mon.meas)
	return meas
}

// MetricsHandler returns the HTTP handler exposing the current gauges
// in Prometheus format.
func (mon *Monitor) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(mon.reg, promhttp.HandlerOpts{})
}

// DumpSummaries writes the time series of the analog and digital
// current measurements to w, as per-second histograms in YODA format.
func (mon *Monitor) DumpSummaries(w io.Writer) error {
	meas := mon.Measurements()
	if len(meas) == 0 {
		return nil
	}

	beg := meas[0].When
	end := meas[len(meas)-1].When.Add(1 * time.Second)
	n := int(end.Sub(beg).Seconds())
	if n < 1 {
		n = 1
	}

	ha := hbook.NewH1D(n, 0, float64(n))
	ha.Ann["name"] = "ha"
	ha.Ann["title"] = fmt.Sprintf("analog current measurements, start: %v", beg.UTC().Format(time.RFC3339))

	hd := hbook.NewH1D(n, 0, float64(n))
	hd.Ann["name"] = "hd"
	hd.Ann["title"] = fmt.Sprintf("digital current measurements, start: %v", beg.UTC().Format(time.RFC3339))

	for _, m := range meas {
		x := m.When.Sub(beg).Seconds()
		ha.Fill(x, m.Ia)
		hd.Fill(x, m.Id)
	}

	err := yodacnv.Write(w, ha, hd)
	if err != nil {
		return fmt.Errorf("monitor: could not write summaries: %w", err)
	}
	return nil
}
