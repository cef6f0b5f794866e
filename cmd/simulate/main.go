// Command simulate runs one HotStuff simulation to completion (or to a
// view budget) and prints a summary. It is a manual smoke-test harness, not
// the configuration/CLI surface described in SPEC_FULL.md --
// that layer, along with the web dashboard and metrics exporter, is a
// separate out-of-tree consumer of this module.
package main

import (
	"fmt"
	"os"

	"github.com/hotstuffsim/hotstuffsim/config"
	"github.com/hotstuffsim/hotstuffsim/engine"
	"github.com/hotstuffsim/hotstuffsim/log"
)

func main() {
	l := log.NewDefault()

	cfg := config.DefaultConfig()
	cfg.NumReplicas = 4
	cfg.NumFaulty = 1
	cfg.MaxViews = 200

	driver, err := engine.NewDriver(cfg, l)
	if err != nil {
		l.Errorf("configuration rejected: %s", err.Error())
		os.Exit(1)
	}

	const stepBudget = 100_000
	ran, violation := driver.Run(stepBudget)
	l.Infof("ran %d events", ran)
	if violation != nil {
		l.Errorf("run aborted: %s", violation.Error())
	}

	m := driver.Metrics()
	fmt.Printf("commits=%d mean=%.2fms p50=%.2fms p95=%.2fms p99=%.2fms\n", m.Count, m.Mean, m.P50, m.P95, m.P99)

	snap := driver.Snapshot()
	for _, id := range driver.ReplicaIDs() {
		rs := snap.Replicas[id]
		fmt.Printf("replica %d: view=%d high_qc_view=%d locked_qc_view=%d\n", id, rs.View, rs.HighQC.View, rs.LockedQC.View)
	}
}
