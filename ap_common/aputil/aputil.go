/*
 * COPYRIGHT 2017 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package aputil

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"sync"
)

const (
	// maxIdentityBytes bounds the node identity file read per the agent's
	// external-interface contract: a single whitespace-terminated
	// identifier, up to 255 bytes.
	maxIdentityBytes = 255
)

var (
	identity     string
	identityOnce sync.Once
)

// FileExists checks to see whether the file/directory at the path location
// exists
func FileExists(filename string) bool {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return false
	}
	return true
}

// ExpandDirPath takes a path name and will translate it into an
// APROOT-relative path if that incoming path starts with a single '/'.  If the
// path starts with anything else, it is returned unchanged.
func ExpandDirPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		// If the incoming path doesn't start with '/', then it's meant
		// to be relative from the current directory - not the root
		return path
	}
	if strings.HasPrefix(path, "//") {
		// If the incoming path starts with '//', then it's meant
		// to be an absolute path - not relative to APROOT
		return strings.TrimPrefix(path, "/")
	}

	root := os.Getenv("APROOT")
	if root == "" {
		root = "./"
	}
	return root + path
}

// ReadNodeIdentity reads the node identity file at path, which contains a
// single whitespace-terminated identifier used as the bismark_id tag on every
// update the agent produces.  The identifier is cached after the first
// successful read; subsequent calls with a different path are ignored.
func ReadNodeIdentity(path string) (string, error) {
	var outerErr error

	identityOnce.Do(func() {
		raw, err := ioutil.ReadFile(path)
		if err != nil {
			outerErr = fmt.Errorf("failed to read node identity %s: %v",
				path, err)
			return
		}
		if len(raw) > maxIdentityBytes {
			raw = raw[:maxIdentityBytes]
		}

		identity = strings.TrimSpace(string(raw))
		if identity == "" {
			outerErr = fmt.Errorf("node identity file %s is empty", path)
		}
	})

	if identity == "" && outerErr == nil {
		outerErr = fmt.Errorf("node identity not yet initialized")
	}

	return identity, outerErr
}
