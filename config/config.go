// Copyright (c) 2025 The Shell developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParsePoolAddress splits a pool address of the form host:port and
// validates the port range.  The host may be a name, an IPv4 address or a
// bracketed IPv6 address.
func ParsePoolAddress(address string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid pool address %q: %w", address, err)
	}
	if strings.TrimSpace(host) == "" {
		return "", 0, fmt.Errorf("invalid pool address %q: empty host", address)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("invalid pool address %q: bad port %q",
			address, portStr)
	}
	return host, uint16(port), nil
}

// ValidateWalletAddress checks the configured wallet string.  It is used
// verbatim as the worker name, so only length is enforced.
func ValidateWalletAddress(address string) error {
	if len(address) == 0 {
		return fmt.Errorf("wallet address is empty")
	}
	if len(address) > MaxWalletAddressLen {
		return fmt.Errorf("wallet address exceeds %d characters",
			MaxWalletAddressLen)
	}
	return nil
}
