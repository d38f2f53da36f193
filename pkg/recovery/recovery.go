// Package recovery implements BootRecovery (spec §4.8): at service
// startup, scan the WAL directory for orphaned transactions left by a
// crash and roll each one back, never aborting startup on an
// individual failure.
package recovery

import (
	"fmt"
	"time"

	"github.com/atomicobject/vault-rename/pkg/txn"
	"github.com/atomicobject/vault-rename/pkg/wal"
)

// Report summarizes one recovery pass, emitted to observability per
// spec §4.8 step 3.
type Report struct {
	Recovered int
	Skipped   int
	Failed    int
	Warnings  []string
}

// Run scans walMgr for pending transactions older than quiescenceWindow
// and rolls each back via txnMgr. It never returns an error: individual
// failures are recorded in the Report and logged by the caller.
func Run(walMgr *wal.Manager, txnMgr *txn.Manager, quiescenceWindow time.Duration) Report {
	var report Report

	scan, err := walMgr.ScanPending(quiescenceWindow)
	report.Warnings = append(report.Warnings, scan.Warnings...)
	report.Skipped = scan.SkippedTooYoung
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("recovery: scan pending: %v", err))
		return report
	}

	for _, entry := range scan.Entries {
		if err := txnMgr.Rollback(entry.Manifest); err != nil {
			report.Failed++
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"recovery: rollback failed for %s (correlation %s): %v",
				entry.Path, entry.Manifest.CorrelationID, err,
			))
			continue
		}
		if err := walMgr.DeleteWAL(entry.Path); err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"recovery: rollback succeeded but wal delete failed for %s: %v", entry.Path, err,
			))
		}
		report.Recovered++
	}

	return report
}
