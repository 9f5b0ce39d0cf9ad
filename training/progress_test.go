package training

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestProgressDeliversInOrder(t *testing.T) {
	p, ch := collect()
	for i := 0; i < 50; i++ {
		p.Emit(EpochMetrics{EpochIndex: i, TrainLoss: float64(i)})
	}
	got := drain(p, ch)
	if len(got) != 50 {
		t.Fatalf("expected 50 events, got %d", len(got))
	}
	for i, m := range got {
		if m.EpochIndex != i {
			t.Fatalf("event %d out of order: %+v", i, m)
		}
	}
}

func TestProgressEmitDoesNotWaitForObserver(t *testing.T) {
	p := NewProgress()
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []int
	p.Attach(ObserverFunc(func(m EpochMetrics) {
		<-release
		mu.Lock()
		seen = append(seen, m.EpochIndex)
		mu.Unlock()
	}))

	emitted := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Emit(EpochMetrics{EpochIndex: i})
		}
		close(emitted)
	}()

	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a stalled observer")
	}

	close(release)
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 100 {
		t.Fatalf("expected 100 deliveries after release, got %d", len(seen))
	}
	for i, e := range seen {
		if e != i {
			t.Fatalf("delivery %d has epoch %d", i, e)
		}
	}
}

func TestProgressWithoutObservers(t *testing.T) {
	p := NewProgress()
	p.Emit(EpochMetrics{EpochIndex: 0})

	ch := p.Channel(4)
	p.Emit(EpochMetrics{EpochIndex: 1})
	got := drain(p, ch)
	if len(got) != 1 || got[0].EpochIndex != 1 {
		t.Errorf("expected only the event emitted after attaching, got %v", got)
	}
}

func TestProgressMultipleObservers(t *testing.T) {
	p := NewProgress()
	a := p.Channel(8)
	b := p.Channel(8)
	for i := 0; i < 3; i++ {
		p.Emit(EpochMetrics{EpochIndex: i})
	}

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i, ch := range []<-chan EpochMetrics{a, b} {
		wg.Add(1)
		go func(i int, ch <-chan EpochMetrics) {
			defer wg.Done()
			for range ch {
				counts[i]++
			}
		}(i, ch)
	}
	p.Close()
	wg.Wait()

	if counts[0] != 3 || counts[1] != 3 {
		t.Errorf("expected each observer to see 3 events, got %v", counts)
	}
}

func TestProgressClose(t *testing.T) {
	p := NewProgress()
	p.Close()
	p.Close()

	ch := p.Channel(1)
	if _, ok := <-ch; ok {
		t.Error("expected a closed channel after Close")
	}
	p.Emit(EpochMetrics{})

	t.Run("unread channel", func(t *testing.T) {
		p := NewProgress()
		ch := p.Channel(0)
		p.Emit(EpochMetrics{EpochIndex: 0})
		p.Emit(EpochMetrics{EpochIndex: 1})

		done := make(chan struct{})
		go func() {
			p.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Close hung on a channel nobody reads")
		}
		if _, ok := <-ch; ok {
			t.Error("expected the channel to be closed")
		}
	})

	t.Run("buffered events survive close", func(t *testing.T) {
		p := NewProgress()
		ch := p.Channel(4)
		for i := 0; i < 4; i++ {
			p.Emit(EpochMetrics{EpochIndex: i})
		}
		p.Close()
		n := 0
		for range ch {
			n++
		}
		if n != 4 {
			t.Errorf("expected 4 buffered events, got %d", n)
		}
	})

	t.Run("without observers", func(t *testing.T) {
		done := make(chan struct{})
		go func() {
			NewProgress().Close()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Close hung with no observers")
		}
	})
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, "Training", 2)

	bar.OnEpoch(EpochMetrics{EpochIndex: 0, TrainLoss: 1.5, ValidLoss: 2.25, ValidAccuracy: 0.5})
	out := buf.String()
	for _, want := range []string{"Training:", "1/2", "train_loss=1.5000", "valid_loss=2.2500", "valid_accuracy=50.00%"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
	if strings.HasSuffix(out, "\n") {
		t.Error("bar should not end the line before the last epoch")
	}

	bar.OnEpoch(EpochMetrics{EpochIndex: 1})
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("expected a newline after the last epoch")
	}
	if !strings.Contains(buf.String(), "100%") {
		t.Error("expected 100% after the last epoch")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00"},
		{59 * time.Second, "00:59"},
		{61 * time.Second, "01:01"},
		{10*time.Minute + 5*time.Second, "10:05"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}
