// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
)

// server allows to control a DTB testboard device over a TCP
// connection, one JSON request per command.
type server struct {
	ctl net.Listener

	msg *log.Logger

	newHAL func(opts ...Option) (*HAL, error)

	opts []Option
	hal  *HAL

	params Params // parameter set of the last "init" command
	ntbms  int
	phase  uint8
}

// Serve listens on addr and controls the testboard tb on behalf of
// connected clients.
func Serve(addr string, tb Testboard, opts ...Option) error {
	srv, err := newServer(addr, tb, opts...)
	if err != nil {
		return fmt.Errorf("dtb: could not create dtb server: %w", err)
	}
	return srv.serve()
}

func newServer(addr string, tb Testboard, opts ...Option) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dtb: could not create dtb-ctl server on %q: %w", addr, err)
	}

	srv := &server{
		ctl: ctl,

		msg: log.New(os.Stdout, "dtb-svc: ", 0),

		newHAL: func(opts ...Option) (*HAL, error) {
			return New(tb, opts...)
		},

		opts: opts,
	}
	return srv, nil
}

func (srv *server) serve() error {
	defer srv.close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("dtb: could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not run DTB board: %+v", err)
			continue
		}
	}
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	srv.hal = nil
	hal, err := srv.newHAL(srv.opts...)
	if err != nil {
		return fmt.Errorf("dtb: could not create DTB device: %w", err)
	}
	defer hal.Close()
	srv.hal = hal

loop:
	for {
		var req struct {
			Name string           `json:"name"`
			Args *json.RawMessage `json:"args"`
		}

		err = json.NewDecoder(conn).Decode(&req)
		if err != nil {
			srv.msg.Printf("could not decode command request: %+v", err)
			srv.reply(conn, err, nil)
			if errors.Is(err, io.EOF) {
				break loop
			}
			continue
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		switch strings.ToLower(req.Name) {
		case "init":
			var args []string
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}
			if len(args) != 1 {
				err = fmt.Errorf("dtb: init takes a parameter file, got %d args", len(args))
				srv.reply(conn, err, nil)
				continue
			}

			err = srv.init(args[0])
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not initialize DTB device: %+v", err)
				continue
			}

		case "dac":
			var args struct {
				ROC   uint8  `json:"roc"`
				Name  string `json:"name"`
				Value uint8  `json:"value"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}

			id, err := DACID(args.Name)
			if err == nil {
				err = hal.RocSetDAC(args.ROC, id, args.Value)
			}
			srv.reply(conn, err, nil)

		case "tbm-reg":
			var args struct {
				Name  string `json:"name"`
				Value uint8  `json:"value"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}

			id, err := TBMRegID(args.Name)
			if err == nil {
				err = hal.TbmSetReg(0, id, args.Value)
			}
			srv.reply(conn, err, nil)

		case "mask":
			var args struct {
				ROC uint8 `json:"roc"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}

			err = hal.RocSetMask(args.ROC, true, nil)
			srv.reply(conn, err, nil)

		case "trim":
			var args struct {
				ROC  uint8 `json:"roc"`
				Trim uint8 `json:"trim"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}

			trims := make([]Pixel, 0, NumCols*NumRows)
			for col := uint8(0); col < NumCols; col++ {
				for row := uint8(0); row < NumRows; row++ {
					trims = append(trims, Pixel{
						ROC: args.ROC, Col: col, Row: row,
						Value: int32(args.Trim),
					})
				}
			}
			err = hal.RocSetMask(args.ROC, false, trims)
			srv.reply(conn, err, nil)

		case "cal":
			var args struct {
				ROC    uint8 `json:"roc"`
				Col    uint8 `json:"col"`
				Row    uint8 `json:"row"`
				Sensor bool  `json:"sensor"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}

			flags := uint32(0)
			if args.Sensor {
				flags |= FlagCals
			}
			err = hal.PixelSetCalibrate(args.ROC, args.Col, args.Row, flags)
			srv.reply(conn, err, nil)

		case "cal-clear":
			var args struct {
				ROC uint8 `json:"roc"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}

			err = hal.RocClearCalibrate(args.ROC)
			srv.reply(conn, err, nil)

		case "hv-on":
			srv.reply(conn, hal.HVOn(), nil)

		case "hv-off":
			srv.reply(conn, hal.HVOff(), nil)

		case "power-on":
			srv.reply(conn, hal.POn(), nil)

		case "power-off":
			srv.reply(conn, hal.POff(), nil)

		case "probe":
			var args struct {
				Port   string `json:"port"`
				Signal string `json:"signal"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}

			sig, err := ProbeID(args.Signal)
			if err == nil {
				err = hal.SignalProbe(args.Port, sig)
			}
			srv.reply(conn, err, nil)

		case "pg":
			var args []struct {
				Pattern uint16 `json:"pattern"`
				Delay   uint8  `json:"delay"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}

			pg := make([]PGEntry, len(args))
			for i, e := range args {
				pg[i] = PGEntry{Pattern: e.Pattern, Delay: e.Delay}
			}
			err = hal.SetupPatternGenerator(pg)
			srv.reply(conn, err, nil)

		case "daq-start":
			err = hal.DaqStart(srv.phase, srv.ntbms)
			srv.reply(conn, err, nil)
			if err != nil {
				srv.msg.Printf("could not start DAQ: %+v", err)
				continue
			}

		case "daq-trigger":
			var args struct {
				N uint32 `json:"n"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}

			err = hal.DaqTrigger(args.N)
			srv.reply(conn, err, nil)

		case "daq-stop":
			err = hal.DaqStop(srv.ntbms)
			srv.reply(conn, err, nil)

		case "daq-read":
			data, err := hal.DaqRead(srv.ntbms)
			srv.reply(conn, err, map[string]any{"words": len(data)})
			if err != nil {
				srv.msg.Printf("could not read DAQ buffer: %+v", err)
				continue
			}

		case "daq-reset":
			err = hal.DaqReset(srv.ntbms)
			srv.reply(conn, err, nil)

		case "status":
			sta, err := srv.status()
			srv.reply(conn, err, sta)

		case "quit":
			srv.reply(conn, nil, nil)
			break loop

		default:
			srv.msg.Printf("unknown command name=%q, args=%q", req.Name, req.Args)
			err = fmt.Errorf("dtb: unknown command %q", req.Name)
			srv.reply(conn, err, nil)
			continue
		}
	}

	return nil
}

// init applies a whole parameter file: power and signal delays, the
// pattern generator program, per-ROC DACs and trims and, when enabled,
// the TBM registers.
func (srv *server) init(fname string) error {
	params, err := LoadParams(fname)
	if err != nil {
		return err
	}

	setup, err := params.Setup()
	if err != nil {
		return err
	}

	err = srv.hal.Init(setup)
	if err != nil {
		return err
	}

	if params.TBM.Enabled {
		regs, err := params.TBMRegs()
		if err != nil {
			return err
		}
		err = srv.hal.InitTBM(0, regs)
		if err != nil {
			return err
		}
		srv.ntbms = 1
	} else {
		srv.ntbms = 0
	}

	for _, roc := range params.ROCs {
		dacs, err := roc.DACRegs()
		if err != nil {
			return err
		}
		err = srv.hal.InitROC(roc.ID, dacs)
		if err != nil {
			return err
		}
		err = srv.hal.RocSetMask(roc.ID, false, nil)
		if err != nil {
			return err
		}
	}

	srv.params = params
	srv.phase = setup.Delays[SigDeser160Phase]
	return nil
}

func (srv *server) status() (map[string]any, error) {
	va, err := srv.hal.TBva()
	if err != nil {
		return nil, err
	}
	vd, err := srv.hal.TBvd()
	if err != nil {
		return nil, err
	}
	ia, err := srv.hal.TBia()
	if err != nil {
		return nil, err
	}
	id, err := srv.hal.TBid()
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"va": va, "vd": vd,
		"ia": ia, "id": id,
	}, nil
}

func (srv *server) decode(conn net.Conn, name string, raw *json.RawMessage, args any) error {
	if raw == nil {
		err := fmt.Errorf("dtb: missing %q payload", name)
		srv.reply(conn, err, nil)
		return err
	}
	err := json.Unmarshal(*raw, args)
	if err != nil {
		srv.msg.Printf("could not decode %q payload: %+v", name, err)
		srv.reply(conn, err, nil)
		return err
	}
	return nil
}

func (srv *server) reply(conn net.Conn, err error, data any) {
	rep := struct {
		Msg  string `json:"msg"`
		Data any    `json:"data,omitempty"`
	}{"ok", data}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
