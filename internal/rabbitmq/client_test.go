package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockConnectMetrics はConnectMetricsのテスト用モック。
type mockConnectMetrics struct {
	attempts  int
	successes int
}

func (m *mockConnectMetrics) RecordConnectAttempt(success bool) {
	m.attempts++
	if success {
		m.successes++
	}
}

var _ ConnectMetrics = (*mockConnectMetrics)(nil)

// stubDial はdialFnを差し替え、テスト終了時に元へ戻す。
func stubDial(t *testing.T, fn func(cfg Config) (*Client, error)) {
	t.Helper()
	orig := dialFn
	dialFn = fn
	t.Cleanup(func() { dialFn = orig })
}

// shortenRetryDelay はリトライ間隔を短縮し、テスト終了時に元へ戻す。
func shortenRetryDelay(t *testing.T) {
	t.Helper()
	orig := retryBaseDelay
	retryBaseDelay = time.Millisecond
	t.Cleanup(func() { retryBaseDelay = orig })
}

func TestDialWithRetry_SucceedsOnLaterAttempt(t *testing.T) {
	shortenRetryDelay(t)

	calls := 0
	stubDial(t, func(cfg Config) (*Client, error) {
		calls++
		if calls < 4 {
			return nil, errors.New("connection refused")
		}
		return &Client{config: cfg}, nil
	})

	metrics := &mockConnectMetrics{}
	client, err := DialWithRetry(context.Background(), Config{MaxRetries: 10}, metrics)
	if err != nil {
		t.Fatalf("DialWithRetry() error = %v", err)
	}
	if client == nil {
		t.Fatal("DialWithRetry() returned nil client")
	}

	if calls != 4 {
		t.Errorf("dial attempts = %d, want 4", calls)
	}
	if metrics.attempts != 4 || metrics.successes != 1 {
		t.Errorf("metrics attempts/successes = %d/%d, want 4/1", metrics.attempts, metrics.successes)
	}
}

func TestDialWithRetry_ExhaustsRetries(t *testing.T) {
	shortenRetryDelay(t)

	calls := 0
	stubDial(t, func(cfg Config) (*Client, error) {
		calls++
		return nil, errors.New("connection refused")
	})

	metrics := &mockConnectMetrics{}
	client, err := DialWithRetry(context.Background(), Config{MaxRetries: 3}, metrics)
	if err == nil {
		client.Close()
		t.Fatal("DialWithRetry() error = nil, want connection error")
	}

	if calls != 3 {
		t.Errorf("dial attempts = %d, want 3", calls)
	}
	if metrics.successes != 0 {
		t.Errorf("metrics successes = %d, want 0", metrics.successes)
	}
}

func TestDialWithRetry_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stubDial(t, func(cfg Config) (*Client, error) {
		return nil, errors.New("connection refused")
	})

	client, err := DialWithRetry(ctx, Config{MaxRetries: 5}, nil)
	if err == nil {
		client.Close()
		t.Fatal("DialWithRetry() error = nil, want context error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRetryDelay_GrowsLinearly(t *testing.T) {
	for attempt := 1; attempt <= 3; attempt++ {
		want := time.Duration(attempt) * retryBaseDelay
		if got := retryDelay(attempt); got != want {
			t.Errorf("retryDelay(%d) = %v, want %v", attempt, got, want)
		}
	}
}
