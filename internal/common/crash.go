// -----------------------------------------------------------------------
// Crash Protection - Fatal error handling and crash file generation
// -----------------------------------------------------------------------

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CrashLogDir is where crash reports land. Set during startup, before any
// goroutine can panic.
var CrashLogDir = "./logs"

// InstallCrashHandler prepares the crash log directory. Call at the top of
// main, paired with a deferred RecoverWithCrashFile.
func InstallCrashHandler(logDir string) {
	if logDir != "" {
		CrashLogDir = logDir
	}
	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create log directory: %v\n", err)
	}
}

// RecoverWithCrashFile is the deferred recovery for main: it writes a crash
// report and exits non-zero.
//
//	defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		WriteCrashFile(r, GetStackTrace())
		os.Exit(1)
	}
}

// WriteCrashFile writes a post-mortem report for a fatal panic and returns
// the report path. Falls back to stderr when the filesystem is unusable.
func WriteCrashFile(panicVal interface{}, stackTrace string) string {
	crashPath := filepath.Join(CrashLogDir,
		fmt.Sprintf("crash-%s.log", time.Now().Format("2006-01-02T15-04-05")))

	report := buildCrashReport(panicVal, stackTrace)

	// O_SYNC-free direct write with an explicit fsync; buffered IO is not
	// trustworthy while the process is going down.
	file, err := os.OpenFile(crashPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create crash file: %v\n%s", err, report)
		return ""
	}
	if _, err := file.Write(report); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to write crash file: %v\n%s", err, report)
	}
	file.Sync()
	file.Close()

	fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\n", crashPath)
	fmt.Fprintf(os.Stderr, "Panic: %v\n", panicVal)
	return crashPath
}

func buildCrashReport(panicVal interface{}, stackTrace string) []byte {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var b bytes.Buffer
	section := func(title, body string) {
		fmt.Fprintf(&b, "=== %s ===\n%s\n", title, body)
	}

	section("VERSO CRASH REPORT", fmt.Sprintf("Time: %s\nVersion: %s",
		time.Now().Format(time.RFC3339), GetFullVersion()))
	section("PANIC VALUE", fmt.Sprintf("%v", panicVal))
	section("STACK TRACE", stackTrace)
	section("ALL GOROUTINES", GetAllGoroutineStacks())
	section("SYSTEM INFO", fmt.Sprintf(
		"NumGoroutine: %d\nNumCPU: %d\nGOOS: %s\nGOARCH: %s\nAlloc: %d MB\nTotalAlloc: %d MB\nSys: %d MB\nNumGC: %d",
		runtime.NumGoroutine(), runtime.NumCPU(), runtime.GOOS, runtime.GOARCH,
		memStats.Alloc/1024/1024, memStats.TotalAlloc/1024/1024,
		memStats.Sys/1024/1024, memStats.NumGC))
	b.WriteString("=== END CRASH REPORT ===\n")
	return b.Bytes()
}

// GetStackTrace returns the current goroutine's stack trace.
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// GetAllGoroutineStacks dumps every goroutine, growing the buffer until the
// dump fits (capped at 64MB).
func GetAllGoroutineStacks() string {
	buf := make([]byte, 64*1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return string(buf[:n])
		}
		buf = make([]byte, len(buf)*2)
		if len(buf) > 64*1024*1024 {
			return string(buf[:runtime.Stack(buf, true)])
		}
	}
}
