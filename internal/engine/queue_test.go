package engine

import "testing"

func TestJobQueueSamePairReplacement(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(Job{Pair: "BTCUSDT", PhPct: 0.05})
	q.Enqueue(Job{Pair: "ETHUSDT", PhPct: 0.05})
	q.Enqueue(Job{Pair: "BTCUSDT", PhPct: 0.10})

	if got := q.Len(); got != 2 {
		t.Fatalf("expected 2 queued jobs after same-pair replacement, got %d", got)
	}

	first, ok := q.Dequeue()
	if !ok || first.Pair != "BTCUSDT" || first.PhPct != 0.10 {
		t.Fatalf("expected replaced BTCUSDT job first, got %+v ok=%v", first, ok)
	}

	second, ok := q.Dequeue()
	if !ok || second.Pair != "ETHUSDT" {
		t.Fatalf("expected ETHUSDT job second, got %+v ok=%v", second, ok)
	}

	if _, ok := q.Dequeue(); ok {
		t.Fatal("expected queue empty after draining both jobs")
	}
}

func TestJobQueueClearAndEnqueueAllPriority(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(Job{Pair: "STALE"})

	jobs := []Job{{Pair: "BTCUSDT"}, {Pair: "ETHUSDT"}, {Pair: "SOLUSDT"}}
	q.ClearAndEnqueueAll(jobs, "SOLUSDT")

	if got := q.Len(); got != 3 {
		t.Fatalf("expected 3 jobs after global recalc, got %d", got)
	}

	first, ok := q.Dequeue()
	if !ok || first.Pair != "SOLUSDT" {
		t.Fatalf("expected priority pair SOLUSDT first, got %+v ok=%v", first, ok)
	}
}

func TestJobQueueDequeueBlockingUnblocksOnDone(t *testing.T) {
	q := newJobQueue()
	done := make(chan struct{})
	close(done)

	if _, ok := q.DequeueBlocking(done); ok {
		t.Fatal("expected DequeueBlocking to return false once done is closed and queue is empty")
	}
}
