package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type fakeNotifier struct {
	errors     []error
	recoveries []int
}

func (f *fakeNotifier) SendError(err error) error {
	f.errors = append(f.errors, err)
	return nil
}

func (f *fakeNotifier) SendRecovery(failures int) error {
	f.recoveries = append(f.recoveries, failures)
	return nil
}

func TestAlerterSendsFirstFailureAndRecovery(t *testing.T) {
	n := &fakeNotifier{}
	a := &alerter{notifier: n}
	tick := a.handler("tick")
	now := time.Now()
	boom := errors.New("db gone")

	tick(now, nil)
	tick(now, boom)
	tick(now, boom)
	tick(now, boom)
	tick(now, nil)
	tick(now, nil)

	if len(n.errors) != 1 || n.errors[0] != boom {
		t.Errorf("Expected exactly one error alert, got %v", n.errors)
	}
	if len(n.recoveries) != 1 || n.recoveries[0] != 3 {
		t.Errorf("Expected one recovery after 3 failures, got %v", n.recoveries)
	}
}

func TestAlerterTracksJobsSeparately(t *testing.T) {
	n := &fakeNotifier{}
	a := &alerter{notifier: n}
	now := time.Now()

	a.handler("tick")(now, errors.New("tick failed"))
	a.handler("rebalance")(now, errors.New("rebalance failed"))
	a.handler("rebalance")(now, nil)

	if len(n.errors) != 2 {
		t.Errorf("Expected an alert per job, got %v", n.errors)
	}
	if len(n.recoveries) != 1 || n.recoveries[0] != 1 {
		t.Errorf("Expected rebalance recovery only, got %v", n.recoveries)
	}
}

func TestAlerterWithoutNotifier(t *testing.T) {
	a := &alerter{}
	a.handle("tick", time.Now(), errors.New("db gone"))
	a.handle("tick", time.Now(), nil)
	if a.failures["tick"] != 0 {
		t.Errorf("Expected failures reset, got %d", a.failures["tick"])
	}
}

func TestAlerterIgnoresShutdown(t *testing.T) {
	n := &fakeNotifier{}
	a := &alerter{notifier: n}

	a.handle("tick", time.Now(), fmt.Errorf("tick failed for alcoholic: %w", context.Canceled))

	if len(n.errors) != 0 || a.failures["tick"] != 0 {
		t.Errorf("Expected shutdown to be ignored, got alerts %v failures %d", n.errors, a.failures["tick"])
	}
}
