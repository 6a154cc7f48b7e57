package vkframe

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
)

func TestRunWorkers(t *testing.T) {
	var ran [4]int32
	err := runWorkers(context.Background(), len(ran), func(ctx context.Context, worker int) error {
		atomic.AddInt32(&ran[worker], 1)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i, n := range ran {
		if n != 1 {
			t.Errorf("worker %d ran %d times", i, n)
		}
	}
	if err := runWorkers(context.Background(), 0, nil); err != nil {
		t.Errorf("no workers: %v", err)
	}
}

func TestRunWorkersFirstError(t *testing.T) {
	failure := errors.New("worker failed")
	err := runWorkers(context.Background(), 4, func(ctx context.Context, worker int) error {
		if worker == 2 {
			return failure
		}
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, failure) {
		t.Errorf("err = %v, want the failing worker's error", err)
	}
}

func TestRunWorkersPanic(t *testing.T) {
	err := runWorkers(context.Background(), 2, func(ctx context.Context, worker int) error {
		if worker == 1 {
			panic("recording exploded")
		}
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "recording exploded") {
		t.Errorf("err = %v, want the recovered panic", err)
	}
}

func TestRunWorkersCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var ran int32
	err := runWorkers(ctx, 3, func(context.Context, int) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if ran != 0 {
		t.Errorf("%d workers ran after cancel", ran)
	}
}

func TestEndAfterFailure(t *testing.T) {
	recordErr := errors.New("draw failed")
	endErr := errors.New("end rejected")

	ended := false
	err := endAfterFailure(recordErr, func() error { ended = true; return nil })
	if !ended || err != recordErr {
		t.Errorf("clean end: ended %v err %v", ended, err)
	}

	err = endAfterFailure(recordErr, func() error { return endErr })
	if !errors.Is(err, recordErr) || !errors.Is(err, endErr) {
		t.Errorf("err = %v, want both the recording and the end failure", err)
	}
	if !strings.Contains(err.Error(), "draw failed") {
		t.Errorf("err = %q, want the recording failure first", err.Error())
	}
}
