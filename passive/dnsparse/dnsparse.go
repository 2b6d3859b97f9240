/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package dnsparse extracts A and CNAME answer records from a captured DNS
// response payload. Parsing is delegated to github.com/miekg/dns, which
// already implements safe, pointer-loop-capped label decompression; this
// package only filters its output down to what the agent's tables retain.
package dnsparse

import (
	"github.com/miekg/dns"

	"bismark/ap_common/network"
)

// Answer is one retained DNS answer record. Name and Target are fully
// qualified, with the trailing root dot stripped.
type Answer struct {
	Name   string // owner name of the record
	IsA    bool   // true for an A record, false for a CNAME
	IPv4   uint32 // valid when IsA
	Target string // valid when !IsA: the CNAME's target name
}

// Result is the outcome of parsing one DNS payload.
type Result struct {
	Answers       []Answer
	RecordsSeen   int // total answer records examined, retained or not
	BytesConsumed int
}

// Parse decodes payload as a DNS message and returns its A/CNAME answers.
// Any other record type, and any malformed message, is dropped silently:
// DNS parsing never fails the caller's packet-ingest path.
func Parse(payload []byte) Result {
	res := Result{BytesConsumed: len(payload)}

	msg := new(dns.Msg)
	if err := msg.Unpack(payload); err != nil {
		return res
	}

	res.RecordsSeen = len(msg.Answer)
	for _, rr := range msg.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if rec.A.To4() == nil {
				continue
			}
			name := trimRoot(rec.Hdr.Name)
			if !network.ValidDNSName(name) {
				continue
			}
			res.Answers = append(res.Answers, Answer{
				Name: name,
				IsA:  true,
				IPv4: network.IPAddrToUint32(rec.A),
			})
		case *dns.CNAME:
			name := trimRoot(rec.Hdr.Name)
			if !network.ValidDNSName(name) {
				continue
			}
			res.Answers = append(res.Answers, Answer{
				Name:   name,
				IsA:    false,
				Target: trimRoot(rec.Target),
			})
		}
	}
	return res
}

func trimRoot(name string) string {
	if len(name) > 0 && name[len(name)-1] == '.' {
		return name[:len(name)-1]
	}
	return name
}
