/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package whitelist implements the agent's domain whitelist: the set of
// fully-qualified domain names (and, transitively, their subdomains) that
// are exported in cleartext rather than anonymized.
package whitelist

import (
	"bufio"
	"os"
	"sort"
	"strings"
)

// Whitelist decides suffix membership for domain names. A nil *Whitelist
// behaves as an empty one (everything anonymized) so callers never need a
// nil check.
type Whitelist struct {
	// reversed holds each whitelisted name with its labels reversed and
	// dot-joined (e.g. "example.com" -> "com.example"), sorted, so each
	// ancestor of a queried name can be found by binary search.
	reversed []string
	names    []string // original order, for Names()
}

func reverseLabels(name string) string {
	labels := strings.Split(name, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}

// Load reads a whitelist file: one fully-qualified name per line, comments
// starting with '#', blank lines ignored. A load failure is non-fatal per
// spec.md §4.C — the caller gets an empty Whitelist and an error to log.
func Load(path string) (*Whitelist, error) {
	w := &Whitelist{}

	if path == "" {
		return w, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return w, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		w.names = append(w.names, line)
		w.reversed = append(w.reversed, reverseLabels(strings.ToLower(line)))
	}
	if err := scanner.Err(); err != nil {
		return &Whitelist{}, err
	}

	sort.Strings(w.reversed)
	return w, nil
}

func (w *Whitelist) exact(reversedName string) bool {
	i := sort.Search(len(w.reversed), func(i int) bool {
		return w.reversed[i] >= reversedName
	})
	return i < len(w.reversed) && w.reversed[i] == reversedName
}

// Match reports whether name is in the whitelist — equal to, or a subdomain
// of, some whitelisted entry. Reversing labels turns every ancestor of name
// into a proper string prefix of name's own reversed form, so we walk from
// the full name up to its registrable root, testing each ancestor for exact
// membership with a binary search over the sorted reversed-label entries.
func (w *Whitelist) Match(name string) bool {
	if w == nil || len(w.reversed) == 0 {
		return false
	}

	labels := strings.Split(strings.ToLower(strings.TrimSuffix(name, ".")), ".")
	for start := 0; start < len(labels); start++ {
		ancestor := strings.Join(labels[start:], ".")
		if w.exact(reverseLabels(ancestor)) {
			return true
		}
	}
	return false
}

// Names returns the whitelist entries in their original file order, for
// emitting the verbatim whitelist section of the first update of a run.
func (w *Whitelist) Names() []string {
	if w == nil {
		return nil
	}
	return w.names
}
