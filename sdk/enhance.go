package parley

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	enhanceBaseDelay   = 1 * time.Second
	enhanceMaxDelay    = 15 * time.Second
	enhanceMaxAttempts = 6
)

// enhancementClient is the single backend call the poller needs. *Client
// satisfies it.
type enhancementClient interface {
	Enhancement(ctx context.Context, taskID string) (*EnhancementResult, error)
}

var errEnhancementPending = errors.New("parley: enhancement still pending")

// newEnhancementBackoff returns the production polling schedule: 1s, 2s, 4s,
// 8s, 15s between at most six attempts.
func newEnhancementBackoff() retry.Backoff {
	return retry.WithMaxRetries(enhanceMaxAttempts-1,
		retry.WithCappedDuration(enhanceMaxDelay, retry.NewExponential(enhanceBaseDelay)))
}

// pollEnhancement watches one enhancement task and reconciles its outcome
// with the conversation turn carrying messageID. It always terminates within
// the attempt budget. Every outcome other than a completed result keeps the
// fast response and merely drops the turn's pending flag.
func pollEnhancement(ctx context.Context, client enhancementClient, conv *Conversation, taskID, messageID string, backoff retry.Backoff, logger *slog.Logger) {
	var outcome *EnhancementResult
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := client.Enhancement(ctx, taskID)
		if err != nil {
			if errors.Is(err, ErrEnhancementGone) {
				return err
			}
			return retry.RetryableError(err)
		}
		if res.Status == EnhancementPending {
			return retry.RetryableError(errEnhancementPending)
		}
		outcome = res
		return nil
	})

	if err == nil && outcome.Status == EnhancementCompleted && outcome.Result != nil {
		if !conv.applyEnhancement(messageID, outcome.Result) {
			logger.Warn("enhanced turn no longer present", "message_id", messageID)
		}
		return
	}
	switch {
	case errors.Is(err, ErrEnhancementGone):
		logger.Debug("enhancement task gone", "task_id", taskID)
	case err != nil:
		logger.Debug("enhancement abandoned", "task_id", taskID, "error", err)
	default:
		logger.Debug("enhancement not completed", "task_id", taskID, "status", outcome.Status)
	}
	conv.clearPending(messageID)
}
