package drobuild

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkResources prints an advisory report on available memory and disk
// space, warning when either falls below the configured thresholds. It
// never aborts the pipeline.
func checkResources() error {
	arrowPrintln(colSuccess, "Build host resources")

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		colWarn.Printf("Could not read memory info: %v\n", err)
	} else {
		mult := uint64(si.Unit)
		if mult == 0 {
			mult = 1
		}
		totalMem := int64(uint64(si.Totalram) * mult)
		availMem := int64((uint64(si.Freeram) + uint64(si.Bufferram)) * mult)

		fmt.Printf("  memory: %s available of %s\n", humanSize(availMem), humanSize(totalMem))
		if availMem < MemWarnMB*1024*1024 {
			arrowPrintf(colWarn, "Low memory: %s available, builds may thrash below %d MB\n", humanSize(availMem), MemWarnMB)
		}
	}

	path := rootDir
	if path == "" {
		path = "."
	}
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		colWarn.Printf("Could not read disk info for %s: %v\n", path, err)
	} else {
		availDisk := int64(fs.Bavail) * int64(fs.Bsize)
		totalDisk := int64(fs.Blocks) * int64(fs.Bsize)

		fmt.Printf("  disk:   %s available of %s on %s\n", humanSize(availDisk), humanSize(totalDisk), path)
		if availDisk < DiskWarnMB*1024*1024 {
			arrowPrintf(colWarn, "Low disk space: %s available, packaging may fail below %d MB\n", humanSize(availDisk), DiskWarnMB)
		}
	}

	return nil
}
