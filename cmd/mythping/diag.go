package main

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// printDiagnostics reports a one-shot local host CPU/memory snapshot
// alongside the protocol probe, grounded on the collect() shape in
// nishisan-dev-n-backup's internal/agent/monitor.go.
func printDiagnostics() {
	fmt.Println("  local host:")
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		fmt.Printf("    cpu:    %.1f%%\n", pct[0])
	} else {
		fmt.Printf("    cpu:    unavailable (%v)\n", err)
	}
	if v, err := mem.VirtualMemory(); err == nil {
		fmt.Printf("    memory: %.1f%% used\n", v.UsedPercent)
	} else {
		fmt.Printf("    memory: unavailable (%v)\n", err)
	}
}
