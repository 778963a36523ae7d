// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pxar-sh provides an interactive shell to a pxar-srv
// control server.
package main // import "github.com/cfangmeier/pxar/cmd/pxar-sh"

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

var cmdNames = []string{
	"init", "dac", "tbm-reg", "mask", "trim",
	"cal", "cal-clear", "hv-on", "hv-off",
	"power-on", "power-off", "probe", "pg",
	"daq-start", "daq-trigger", "daq-stop", "daq-read", "daq-reset",
	"status", "quit",
}

func main() {
	var (
		addr = flag.String("addr", "localhost:8866", "pxar-srv [addr]:port to dial")
	)

	log.SetPrefix("pxar-sh: ")
	log.SetFlags(0)

	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("could not dial pxar-srv %q: %+v", *addr, err)
	}
	defer conn.Close()

	err = repl(conn)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func repl(conn net.Conn) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) (c []string) {
		for _, name := range cmdNames {
			if strings.HasPrefix(name, strings.ToLower(line)) {
				c = append(c, name)
			}
		}
		return c
	})

	history := filepath.Join(os.TempDir(), ".pxar_sh_history")
	if f, err := os.Open(history); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(history)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	var (
		enc = json.NewEncoder(conn)
		dec = json.NewDecoder(conn)
	)

	for {
		line, err := term.Prompt("pxar> ")
		switch {
		case err == nil:
			// ok
		case err == liner.ErrPromptAborted || err == io.EOF:
			return nil
		default:
			return fmt.Errorf("could not read line: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		words := strings.Fields(line)
		err = send(enc, dec, words[0], words[1:])
		if err != nil {
			return err
		}
		if words[0] == "quit" {
			return nil
		}
	}
}

func send(enc *json.Encoder, dec *json.Decoder, name string, args []string) error {
	err := enc.Encode(struct {
		Name string   `json:"name"`
		Args []string `json:"args"`
	}{name, args})
	if err != nil {
		return fmt.Errorf("could not send command %q: %w", name, err)
	}

	var reply struct {
		Msg  string           `json:"msg"`
		Data *json.RawMessage `json:"data,omitempty"`
	}
	err = dec.Decode(&reply)
	if err != nil {
		return fmt.Errorf("could not read reply to %q: %w", name, err)
	}

	fmt.Printf("%s\n", reply.Msg)
	if reply.Data != nil {
		fmt.Printf("%s\n", string(*reply.Data))
	}
	return nil
}
