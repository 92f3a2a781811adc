package pipeline

import (
	"time"

	c "github.com/danmont/starpipe/constants"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"golang.org/x/net/context"
)

// runStageWithRetry executes fn and retries it when it fails with a transient
// I/O error. Attempt n sleeps n * BackoffSeconds before running, so the delay
// grows linearly up to the attempt bound. Any non-transient error aborts
// immediately: schema and lookup problems will not heal on their own, and a
// consistency violation must stop the run before more state is mutated.
//
// Every stage is safe to re-run from the top - staging upserts by natural key
// and the loaders skip already-loaded rows - so retrying a stage that failed
// part way through never duplicates data.
func runStageWithRetry(ctx context.Context, log logger.Logger, policy RetryPolicy, stageName string, fn func() error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.RetryMaxAttemptsDefault
	}
	backoffSeconds := policy.BackoffSeconds
	if backoffSeconds <= 0 {
		backoffSeconds = c.RetryBackoffSecondsDefault
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * time.Duration(backoffSeconds) * time.Second
			log.Info("Stage ", stageName, " retrying in ", delay, " (attempt ", attempt, " of ", maxAttempts, ")")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !rowio.IsTransient(err) {
			return err
		}
		log.Warn("Stage ", stageName, " failed with transient error: ", err)
	}
	return err
}
