/*
 * COPYRIGHT 2018 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package network contains helper functions for translating between the wire
// representation of MAC/IPv4 addresses and the compact integer forms used by
// the passive measurement tables, plus a handful of interface-readiness and
// name-validation utilities shared by the capture daemons.
package network

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"net"
	"regexp"
	"strings"
	"time"
)

// HWAddrToUint64 encodes a net.HardwareAddr as a uint64
func HWAddrToUint64(a net.HardwareAddr) uint64 {
	hwaddr := make([]byte, 8)
	hwaddr[0] = 0
	hwaddr[1] = 0
	copy(hwaddr[2:], a)

	return binary.BigEndian.Uint64(hwaddr)
}

// Uint64ToHWAddr decodes a uint64 into a net.HardwareAddr
func Uint64ToHWAddr(a uint64) net.HardwareAddr {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, a)
	return net.HardwareAddr(b[2:])
}

// IPAddrToUint32 encodes a net.IP as a uint32
func IPAddrToUint32(a net.IP) uint32 {
	var rval uint32

	if b := a.To4(); b != nil {
		rval = binary.BigEndian.Uint32(b)
	}
	return rval
}

// Uint32ToIPAddr decodes a uint32 into a net.IP
func Uint32ToIPAddr(a uint32) net.IP {
	var ipv4 net.IP

	if a != 0 {
		ipv4 = make(net.IP, net.IPv4len)
		binary.BigEndian.PutUint32(ipv4, a)
	}
	return ipv4
}

// WaitForDevice will wait for a network device to reach the 'up' state.
// Returns an error on timeout or if the device doesn't exist
func WaitForDevice(dev string, timeout time.Duration) error {
	fn := "/sys/class/net/" + dev + "/operstate"

	start := time.Now()
	for {
		state, err := ioutil.ReadFile(fn)
		if err == nil && len(state) >= 2 && string(state[0:2]) == "up" {
			break
		}
		if time.Since(start) >= timeout {
			return fmt.Errorf("timeout: %s not online: %s", dev, state)
		}
		time.Sleep(time.Millisecond * 100)
	}
	return nil
}

var legalHostname = regexp.MustCompile(`^([a-z0-9]|[a-z0-9][a-z0-9\-]*[a-z0-9])$`)

// ValidHostname checks whether the provided hostname is RFC1123-compliant.
// A hostname may contain only letters, digits, and hyphens.  It may neither
// start nor end with hyphen.
func ValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 63 {
		return false
	}

	lower := []byte(strings.ToLower(hostname))
	return legalHostname.Match(lower)
}

var legalDNSlabel = regexp.MustCompile(`^([a-z0-9_]|[_a-z0-9][_a-z0-9\-]*[_a-z0-9])$`)
var minimalDNSlabel = regexp.MustCompile(`[a-z0-9]`)

// ValidDNSLabel checks whether the provided string is a valid DNS label.
func ValidDNSLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}

	lower := []byte(strings.ToLower(label))
	return legalDNSlabel.Match(lower) && minimalDNSlabel.Match(lower)
}

// ValidDNSName checks whether the provided name is a valid DNS name.  A DNS
// name may have multiple labels.  Each label must satisfy the same constraints
// as a Hostname, but the underscore character may be used anywhere.
func ValidDNSName(name string) bool {
	labels := strings.Split(name, ".")
	for _, label := range labels {
		if !ValidDNSLabel(label) {
			return false
		}
	}

	return true
}
