/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package anon implements the agent's anonymization oracle: a per-process
// keyed one-way hash, with domain separation between domain names and IPv4
// addresses, used consistently by every table that emits a name or address.
package anon

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	keySize = 32

	// digestSize bounds the emitted pseudonym. 16 bytes (32 hex chars) is
	// short enough to keep update files compact but wide enough that
	// accidental collisions across a period's worth of names/addresses
	// are not a practical concern.
	digestSize = 16

	// domain-separation tags, mixed into the hash ahead of the message so
	// that a name and an address with the same byte representation never
	// produce the same pseudonym.
	tagDomainName byte = 'n'
	tagIPv4       byte = 'a'
)

// Oracle is a keyed pseudonymizer. The zero value is not usable; construct
// one with New or NewDisabled.
type Oracle struct {
	key      []byte
	saltID   string
	disabled bool
}

// New generates a fresh random key from a cryptographic source and returns an
// Oracle built on it. This is called once at startup; an error here is fatal
// (spec.md §7, anonymization-init-failure).
func New() (*Oracle, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate anonymization key: %v", err)
	}

	sum := sha256.Sum256(key)
	return &Oracle{
		key:    key,
		saltID: hex.EncodeToString(sum[:])[:16],
	}, nil
}

// NewDisabled returns an Oracle that emits names and addresses in cleartext.
// It exists so that callers can treat "anonymization disabled" uniformly
// through the same interface rather than branching everywhere.
func NewDisabled() *Oracle {
	return &Oracle{disabled: true}
}

// Enabled reports whether this oracle actually anonymizes its input.
func (o *Oracle) Enabled() bool {
	return !o.disabled
}

// SaltID is the public, non-secret identifier for this oracle's key, emitted
// once in every update's header so a receiver can correlate pseudonyms
// produced by the same agent instance without learning the key itself.
func (o *Oracle) SaltID() string {
	if o.disabled {
		return "UNANONYMIZED"
	}
	return o.saltID
}

func (o *Oracle) anonymize(tag byte, msg []byte) string {
	h, _ := blake2b.New(digestSize, o.key)
	h.Write([]byte{tag})
	h.Write(msg)
	return hex.EncodeToString(h.Sum(nil))
}

// AnonymizeDomainName returns the pseudonym for a fully-qualified domain
// name, or the name itself unchanged if anonymization is disabled.
func (o *Oracle) AnonymizeDomainName(name string) string {
	if o.disabled {
		return name
	}
	return o.anonymize(tagDomainName, []byte(name))
}

// AnonymizeIPv4 returns the pseudonym for a dotted-quad IPv4 address, or the
// address itself unchanged if anonymization is disabled.
func (o *Oracle) AnonymizeIPv4(ipv4 string) string {
	if o.disabled {
		return ipv4
	}
	return o.anonymize(tagIPv4, []byte(ipv4))
}
