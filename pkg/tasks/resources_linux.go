//go:build linux

package tasks

import (
	"os"
	"strconv"
	"strings"
)

// processRSS returns the resident set size of a process in bytes.
func processRSS(pid int) (int64, bool) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/statm")
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, false
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return pages * int64(os.Getpagesize()), true
}

// processCPUJiffies returns the accumulated user+system CPU time of a
// process in clock ticks.
func processCPUJiffies(pid int) (int64, bool) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0, false
	}
	// The comm field may contain spaces; fields count from after the
	// closing paren. utime and stime are the 14th and 15th stat fields.
	raw := string(data)
	idx := strings.LastIndexByte(raw, ')')
	if idx < 0 {
		return 0, false
	}
	fields := strings.Fields(raw[idx+1:])
	if len(fields) < 13 {
		return 0, false
	}
	utime, err1 := strconv.ParseInt(fields[11], 10, 64)
	stime, err2 := strconv.ParseInt(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return utime + stime, true
}
