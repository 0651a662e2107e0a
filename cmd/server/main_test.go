package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vizzle/studio/internal/logger"
)

func TestServeWaitsForShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu    sync.Mutex
		steps []string
	)
	record := func(s string) {
		mu.Lock()
		steps = append(steps, s)
		mu.Unlock()
	}

	listenerClosed := make(chan struct{})
	listen := func() error {
		<-listenerClosed
		record("listen returned")
		return nil
	}
	shutdown := func() error {
		close(listenerClosed)
		time.Sleep(50 * time.Millisecond)
		record("shutdown finished")
		return nil
	}

	returned := make(chan struct{})
	go func() {
		serve(ctx, listen, shutdown, logger.Nop())
		record("serve returned")
		close(returned)
	}()
	cancel()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"listen returned", "shutdown finished", "serve returned"}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("steps = %v, want %v", steps, want)
		}
	}
}

func TestServeShutsDownWhenListenFails(t *testing.T) {
	shutdownCalled := make(chan struct{})
	returned := make(chan struct{})
	go func() {
		serve(context.Background(), func() error {
			return errors.New("address in use")
		}, func() error {
			close(shutdownCalled)
			return nil
		}, logger.Nop())
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("serve blocked after listen failed")
	}
	select {
	case <-shutdownCalled:
	default:
		t.Error("shutdown not called")
	}
}
