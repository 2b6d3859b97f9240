/*
 * COPYRIGHT 2019 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package aputil

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/satori/uuid"
	"go.uber.org/zap"
)

// FaultReport describes a single "should not happen" condition surfaced by a
// daemon.  Only the core of the agent (flush failures, startup failures)
// generates these; transient or expected conditions should just be logged.
type FaultReport struct {
	UUID      string    `json:"uuid"`
	Date      time.Time `json:"date"`
	Appliance string    `json:"appliance"`
	Daemon    string    `json:"daemon"`
	Kind      string    `json:"kind"`
	Msg       string    `json:"msg,omitempty"`
	Stack     string    `json:"stack,omitempty"`
	LogTail   string    `json:"log_tail,omitempty"`
}

var (
	self      string
	nodeID    string
	reportDir string
	slog      *zap.SugaredLogger
)

func newReport(daemon, kind string) *FaultReport {
	return &FaultReport{
		UUID:      uuid.NewV4().String(),
		Date:      time.Now(),
		Appliance: nodeID,
		Daemon:    daemon,
		Kind:      kind,
	}
}

func writeReport(report *FaultReport) error {
	if reportDir == "" {
		return fmt.Errorf("fault reporting not initialized")
	}

	b, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		path := filepath.Join(reportDir, report.UUID+".json")
		err = ioutil.WriteFile(path, b, 0640)
	}

	switch {
	case slog == nil && err == nil:
		log.Printf("\tINFO\tgenerated FaultReport %s", report.UUID)
	case slog != nil && err == nil:
		slog.Infof("generated FaultReport %s", report.UUID)
	case slog == nil && err != nil:
		log.Printf("\tERROR\twriting FaultReport: %v", err)
	case slog != nil && err != nil:
		slog.Errorf("writing FaultReport: %v", err)
	}

	return err
}

// ReportFatal is used to report that the daemon is about to terminate in
// response to an unrecoverable error (a flush I/O failure, or a startup
// failure).  The report captures a stack trace to help root-cause the
// failure after the supervisor restarts the process.
func ReportFatal(format string, v ...interface{}) error {
	msg := fmt.Sprintf(format, v...)
	if slog == nil {
		log.Printf("FATAL\t%s", msg)
	} else {
		slog.Errorf(msg)
	}

	report := newReport(self, "fatal")
	report.Msg = msg
	report.Stack = string(debug.Stack())
	report.LogTail = CrashLogTail()

	return writeReport(report)
}

// ReportInit sets the common values required by the fault reporting routines.
// It must be called before reporting any faults.
func ReportInit(zaplog *zap.SugaredLogger, name, appliance, dataDir string) {
	self = name
	nodeID = appliance

	if zaplog != nil {
		slog = zaplog.Desugar().WithOptions(zap.AddCallerSkip(1)).Sugar()
	}

	reportDir = filepath.Join(dataDir, "faults")
	os.MkdirAll(reportDir, 0777)
}
