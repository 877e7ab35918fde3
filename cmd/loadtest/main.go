// Command loadtest uploads synthetic rallies to a running courtside server
// and verifies every accepted job.
package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/courtside/internal/loadtest"
	"github.com/okian/courtside/pkg/logger"
)

const (
	defaultClips       = 50
	defaultClipBytes   = 64 << 10
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultWait        = 5 * time.Minute
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		clips     = flag.Int("clips", defaultClips, "Number of distinct clips to upload")
		clipBytes = flag.Int("bytes", defaultClipBytes, "Size of each synthetic clip")
		repeats   = flag.Int("repeats", defaultClips/5, "Uploads re-sent with an already used request id")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent uploaders")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		poll      = flag.Duration("poll", time.Second, "Job status poll interval")
		wait      = flag.Duration("wait", defaultWait, "How long to wait for jobs to finish")
		user      = flag.String("user", "loadtest", "X-User-ID sent with every request")
		logFile   = flag.String("log", "", "Log file (default: loadtest_TIMESTAMP.log)")
		verbose   = flag.Bool("verbose", false, "Log every upload")
	)
	flag.Parse()

	_ = logger.Init()
	closer, err := loadtest.SetupLogging(*logFile)
	if err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer closer.Close()
	if *verbose {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTestTimeout)
	defer cancel()

	cfg := &loadtest.Config{
		BaseURL:      *baseURL,
		Clips:        *clips,
		ClipBytes:    *clipBytes,
		Repeats:      *repeats,
		Workers:      *workers,
		Timeout:      *timeout,
		PollInterval: *poll,
		Wait:         *wait,
		UserID:       *user,
		Verbose:      *verbose,
	}

	if _, err := loadtest.Run(ctx, cfg); err != nil {
		os.Stderr.WriteString("Load test failed: " + err.Error() + "\n")
		closer.Close()
		os.Exit(1)
	}
}
