// Copyright 2023 The pxar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dtb

import (
	"fmt"
)

// hashString maps an RPC call signature to the hash used by the
// firmware compatibility handshake.
func hashString(s string) uint32 {
	h := uint32(31)
	for i := 0; i < len(s); i++ {
		h = (h * 54059) ^ (uint32(s[i]) * 76963)
	}
	return h % 86969
}

// hashStrings folds a list of RPC call signatures into a single,
// position-dependent hash.
func hashStrings(vs []string) uint32 {
	var h uint32
	for i, v := range vs {
		h += uint32(i+1) * hashString(v)
	}
	return h
}

// checkCompatibility verifies that the RPC call lists of the host
// client and of the testboard firmware match. On a count mismatch the
// offending entries are listed in the returned error.
func (hal *HAL) checkCompatibility() error {
	host := hal.tb.HostRPCCallNames()
	hal.msg.Printf("host RPC hash: %d", hashStrings(host))

	n, err := hal.tb.RPCCallCount()
	if err != nil {
		return fmt.Errorf("could not fetch DTB RPC call count: %w", err)
	}

	if n == len(host) {
		return nil
	}

	hal.msg.Printf("RPC call count of DTB and host do not match:")
	hal.msg.Printf("   %d DTB RPC calls vs.", n)
	hal.msg.Printf("   %d host RPC calls defined!", len(host))

	max := n
	if len(host) > max {
		max = len(host)
	}
	var diff []string
	for id := 0; id < max; id++ {
		var dtbName, hostName string
		if id < n {
			dtbName, err = hal.tb.RPCCallName(id)
			if err != nil {
				hal.msg.Printf("error in fetching DTB RPC call name %d: %+v", id, err)
			}
		}
		if id < len(host) {
			hostName = host[id]
		}
		if dtbName != hostName {
			diff = append(diff, fmt.Sprintf("id %d: (DTB) %q != (host) %q", id, dtbName, hostName))
			hal.msg.Printf("id %d: (DTB) %q != (host) %q", id, dtbName, hostName)
		}
	}

	return fmt.Errorf("RPC call lists differ (%d DTB vs %d host calls, %d mismatches), update the DTB flash file",
		n, len(host), len(diff))
}
