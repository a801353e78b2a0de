//go:build !linux

package tasks

// Resource sampling is unsupported here; the sandbox falls back to the
// wall-clock timeout alone.

func processRSS(int) (int64, bool) { return 0, false }

func processCPUJiffies(int) (int64, bool) { return 0, false }
