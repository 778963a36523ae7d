// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"encoding/json"
	"io"
	"log"
	"net"
	"strings"
	"testing"
)

type ctlClient struct {
	t    *testing.T
	conn net.Conn
	dec  *json.Decoder
}

func dialCtl(t *testing.T, addr string) *ctlClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("could not dial dtb server: %+v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &ctlClient{t: t, conn: conn, dec: json.NewDecoder(conn)}
}

func (cli *ctlClient) send(name string, args any) (string, map[string]any) {
	cli.t.Helper()
	req := map[string]any{"name": name}
	if args != nil {
		req["args"] = args
	}
	err := json.NewEncoder(cli.conn).Encode(req)
	if err != nil {
		cli.t.Fatalf("could not send %q request: %+v", name, err)
	}

	var rep struct {
		Msg  string         `json:"msg"`
		Data map[string]any `json:"data"`
	}
	err = cli.dec.Decode(&rep)
	if err != nil {
		cli.t.Fatalf("could not decode %q reply: %+v", name, err)
	}
	return rep.Msg, rep.Data
}

func TestServer(t *testing.T) {
	sim := NewSimulator("")
	srv, err := newServer("127.0.0.1:0", sim,
		WithLogger(log.New(io.Discard, "", 0)),
	)
	if err != nil {
		t.Fatalf("could not create dtb server: %+v", err)
	}
	srv.msg = log.New(io.Discard, "", 0)
	defer srv.close()

	go func() { _ = srv.serve() }()

	cli := dialCtl(t, srv.ctl.Addr().String())

	// an init request without a payload is rejected, not fatal.
	msg, _ := cli.send("init", nil)
	if !strings.Contains(msg, "missing") {
		t.Fatalf("invalid reply to bare init: %q", msg)
	}

	msg, _ = cli.send("init", []string{writeParams(t, testParams)})
	if msg != "ok" {
		t.Fatalf("could not initialize: %s", msg)
	}

	msg, _ = cli.send("power-on", nil)
	if msg != "ok" {
		t.Fatalf("could not power on: %s", msg)
	}

	msg, data := cli.send("status", nil)
	if msg != "ok" {
		t.Fatalf("could not get status: %s", msg)
	}
	if got, want := data["va"].(float64), 1.9; got != want {
		t.Fatalf("invalid VA: got=%v, want=%v", got, want)
	}

	msg, _ = cli.send("dac", map[string]any{"roc": 0, "name": "vcal", "value": 150})
	if msg != "ok" {
		t.Fatalf("could not set DAC: %s", msg)
	}
	if got, want := sim.dacs[0][0x19], uint8(150); got != want {
		t.Fatalf("invalid vcal: got=%d, want=%d", got, want)
	}

	msg, _ = cli.send("dac", map[string]any{"roc": 0, "name": "bogus", "value": 1})
	if msg == "ok" {
		t.Fatalf("unknown DAC name accepted")
	}

	msg, _ = cli.send("cal", map[string]any{"roc": 0, "col": 11, "row": 20})
	if msg != "ok" {
		t.Fatalf("could not arm pixel: %s", msg)
	}

	// The parameter file enables the TBM: the DAQ runs both channels
	// through the deser400 path.
	msg, _ = cli.send("daq-start", nil)
	if msg != "ok" {
		t.Fatalf("could not start DAQ: %s", msg)
	}
	if !sim.des400 {
		t.Fatalf("deser400 not selected with TBM enabled")
	}

	msg, _ = cli.send("daq-trigger", map[string]any{"n": 2})
	if msg != "ok" {
		t.Fatalf("could not trigger: %s", msg)
	}
	msg, _ = cli.send("daq-stop", nil)
	if msg != "ok" {
		t.Fatalf("could not stop DAQ: %s", msg)
	}
	msg, data = cli.send("daq-read", nil)
	if msg != "ok" {
		t.Fatalf("could not read DAQ buffer: %s", msg)
	}
	if got := data["words"].(float64); got <= 0 {
		t.Fatalf("empty DAQ readout")
	}
	msg, _ = cli.send("daq-reset", nil)
	if msg != "ok" {
		t.Fatalf("could not reset DAQ: %s", msg)
	}

	msg, _ = cli.send("bogus", []string{})
	if msg == "ok" {
		t.Fatalf("unknown command accepted")
	}
	if !strings.Contains(msg, "unknown command") {
		t.Fatalf("invalid error message: %s", msg)
	}

	msg, _ = cli.send("quit", nil)
	if msg != "ok" {
		t.Fatalf("could not quit: %s", msg)
	}
}
