// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
)

func TestHashString(t *testing.T) {
	for _, tc := range []struct {
		name string
		want uint32
	}{
		{"GetRpcVersion$i", 48959},
		{"Welcome$v", 23811},
		{"Flush$v", 86117},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := hashString(tc.name); got != tc.want {
				t.Fatalf("invalid hash: got=%d, want=%d", got, tc.want)
			}
		})
	}
}

func TestHashStrings(t *testing.T) {
	names := []string{"GetRpcVersion$i", "Welcome$v", "Flush$v"}
	if got, want := hashStrings(names), uint32(354932); got != want {
		t.Fatalf("invalid vector hash: got=%d, want=%d", got, want)
	}

	// The hash is position dependent.
	swapped := []string{"Welcome$v", "GetRpcVersion$i", "Flush$v"}
	if got := hashStrings(swapped); got == 354932 {
		t.Fatalf("vector hash ignores ordering")
	}
}

// rpcTB reports a firmware RPC call list independent of the host one.
type rpcTB struct {
	*Simulator
	host []string
	dtb  []string
}

func (tb *rpcTB) HostRPCCallNames() []string { return tb.host }
func (tb *rpcTB) RPCCallCount() (int, error) { return len(tb.dtb), nil }

func (tb *rpcTB) RPCCallName(id int) (string, error) {
	if id < 0 || id >= len(tb.dtb) {
		return "", fmt.Errorf("dtb: invalid RPC call id %d", id)
	}
	return tb.dtb[id], nil
}

func TestCheckCompatibility(t *testing.T) {
	names := []string{"GetRpcVersion$i", "Welcome$v", "Flush$v"}

	hal := &HAL{
		msg: log.New(io.Discard, "", 0),
		tb:  &rpcTB{Simulator: NewSimulator(""), host: names, dtb: names},
	}
	if err := hal.checkCompatibility(); err != nil {
		t.Fatalf("matching call lists rejected: %+v", err)
	}

	hal.tb = &rpcTB{
		Simulator: NewSimulator(""),
		host:      names,
		dtb:       names[:2],
	}
	err := hal.checkCompatibility()
	if err == nil {
		t.Fatalf("expected an error on mismatched call lists")
	}
	if !strings.Contains(err.Error(), "update the DTB flash file") {
		t.Fatalf("invalid error: %+v", err)
	}
}
