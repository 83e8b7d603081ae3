package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rewired-gh/tapmarket/internal/logger"
)

type failureNotifier interface {
	SendError(err error) error
	SendRecovery(failures int) error
}

// alerter tracks consecutive failures per job. The first failure after a
// success sends an alert, the first success after failures a recovery.
type alerter struct {
	notifier failureNotifier

	mu       sync.Mutex
	failures map[string]int
}

func (a *alerter) handler(job string) func(time.Time, error) {
	return func(boundary time.Time, err error) {
		a.handle(job, boundary, err)
	}
}

func (a *alerter) handle(job string, boundary time.Time, err error) {
	if errors.Is(err, context.Canceled) {
		logger.Info("%s for boundary %s interrupted by shutdown", job, boundary.Format("15:04:05"))
		return
	}

	a.mu.Lock()
	if a.failures == nil {
		a.failures = make(map[string]int)
	}
	prev := a.failures[job]
	if err != nil {
		a.failures[job] = prev + 1
	} else {
		a.failures[job] = 0
	}
	a.mu.Unlock()

	if err != nil {
		logger.Error("%s for boundary %s failed: %v", job, boundary.Format("15:04:05"), err)
		if prev == 0 && a.notifier != nil {
			if sendErr := a.notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return
	}
	if prev > 0 {
		logger.Info("%s recovered after %d consecutive failures", job, prev)
		if a.notifier != nil {
			if sendErr := a.notifier.SendRecovery(prev); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
	}
}
