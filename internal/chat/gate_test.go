package chat

import (
	"context"
	"strconv"
	"testing"
)

func TestGateCountsThreadOnceAtThreshold(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	gate := NewGate(repo)
	ctx := context.Background()

	// Below the threshold nothing is counted.
	gate.RecordUserMessage(ctx, "u1", "t1", 1)
	if threads, _ := repo.InteractedThreads(ctx, "u1"); len(threads) != 0 {
		t.Fatalf("counted below threshold: %v", threads)
	}

	// Exactly at the threshold the thread is counted.
	gate.RecordUserMessage(ctx, "u1", "t1", 2)
	if threads, _ := repo.InteractedThreads(ctx, "u1"); len(threads) != 1 {
		t.Fatalf("thread not counted at threshold: %v", threads)
	}

	// Past the threshold and replays at the threshold count nothing new.
	gate.RecordUserMessage(ctx, "u1", "t1", 3)
	gate.RecordUserMessage(ctx, "u1", "t1", 2)
	if threads, _ := repo.InteractedThreads(ctx, "u1"); len(threads) != 1 {
		t.Fatalf("thread counted more than once: %v", threads)
	}
}

func TestGateRaisesFlagOnEveryThirdThread(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	gate := NewGate(repo)
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		gate.RecordUserMessage(ctx, "u1", "thread-"+strconv.Itoa(i), 2)
		want := i%3 == 0
		if got := gate.Blocked(ctx, "u1"); got != want {
			t.Fatalf("after %d threads: Blocked = %v, want %v", i, got, want)
		}
		if i%3 == 0 {
			// The flag stays up until feedback is submitted.
			gate.ClearFeedback(ctx, "u1")
			if gate.Blocked(ctx, "u1") {
				t.Fatalf("after clearing at %d threads: still blocked", i)
			}
		}
	}
}

func TestGateFlagIsStickyAcrossThreads(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	gate := NewGate(repo)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		gate.RecordUserMessage(ctx, "u1", "thread-"+strconv.Itoa(i), 2)
	}
	if !gate.Blocked(ctx, "u1") {
		t.Fatal("flag not raised at three threads")
	}

	// A fourth thread crossing the threshold does not clear the flag.
	gate.RecordUserMessage(ctx, "u1", "thread-4", 2)
	if !gate.Blocked(ctx, "u1") {
		t.Fatal("flag dropped without feedback submission")
	}
}

func TestGateUnknownUserNotBlocked(t *testing.T) {
	t.Parallel()

	gate := NewGate(newFakeRepo())
	if gate.Blocked(context.Background(), "nobody") {
		t.Fatal("unknown user blocked")
	}
}
