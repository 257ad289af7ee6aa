package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// HaltOnFetchError controls how the orchestrator treats a failed data-source
// fetch: halt the session, or continue the remaining phases with an empty
// record set for the failed source.
//
// Set via env:
// - RECON_HALT_ON_FETCH_ERROR=true
func HaltOnFetchError() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("RECON_HALT_ON_FETCH_ERROR")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// FixBatchSize is the number of fixes applied concurrently per batch.
//
// Set via env:
// - RECON_FIX_BATCH_SIZE (default 5)
func FixBatchSize() int {
	v := strings.TrimSpace(os.Getenv("RECON_FIX_BATCH_SIZE"))
	if v == "" {
		return 5
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 5
	}
	return n
}

// FixBatchDelay is the pause between fix batches, a courtesy to the
// accounting API's rate limiter.
//
// Set via env:
// - RECON_FIX_BATCH_DELAY_MS (default 1000)
func FixBatchDelay() time.Duration {
	v := strings.TrimSpace(os.Getenv("RECON_FIX_BATCH_DELAY_MS"))
	if v == "" {
		return time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return time.Second
	}
	return time.Duration(n) * time.Millisecond
}
