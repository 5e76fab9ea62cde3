package reveal

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// recorder collects published display states with their arrival times.
type recorder struct {
	mu      sync.Mutex
	entries []string
	stamps  []time.Time
}

func (r *recorder) publish(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, text)
	r.stamps = append(r.stamps, time.Now())
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func fastScheduler(r *recorder) *Scheduler {
	return New(r.publish,
		WithBaseDelay(5*time.Millisecond),
		WithClausePause(10*time.Millisecond),
		WithSentencePause(25*time.Millisecond),
		WithPlaceholderGrace(30*time.Millisecond),
	)
}

func TestDelayFor_PunctuationPacing(t *testing.T) {
	t.Parallel()

	s := New(func(string) {})
	plain := s.delayFor("world")
	clause := s.delayFor("Hello,")
	sentence := s.delayFor("Stop.")
	question := s.delayFor("really?")

	if !(plain < clause && clause < sentence) {
		t.Errorf("pacing order violated: plain=%v clause=%v sentence=%v", plain, clause, sentence)
	}
	if question != sentence {
		t.Errorf("? and . should pause equally: %v vs %v", question, sentence)
	}
}

func TestSetTarget_RevealsWordsInOrder(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := fastScheduler(rec)
	defer s.Close()

	s.SetTarget("Hello, world! Stop.")
	waitFor(t, func() bool { return s.Revealed() == 3 })

	got := rec.snapshot()
	want := []string{"Hello,", "Hello, world!", "Hello, world! Stop."}
	if len(got) != len(want) {
		t.Fatalf("published %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("publish %d: got %q, want %q", i, got[i], want[i])
		}
	}

	// The gap after "Hello," (clause) must be shorter than the gap after
	// "world!" (sentence-terminal).
	rec.mu.Lock()
	gapClause := rec.stamps[1].Sub(rec.stamps[0])
	gapSentence := rec.stamps[2].Sub(rec.stamps[1])
	rec.mu.Unlock()
	if gapClause >= gapSentence {
		t.Errorf("comma gap %v should be shorter than sentence gap %v", gapClause, gapSentence)
	}
}

func TestSetTarget_SuffixGrowthOnly(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := fastScheduler(rec)
	defer s.Close()

	s.SetTarget("a b")
	waitFor(t, func() bool { return s.Revealed() == 2 })

	s.SetTarget("a b c")
	waitFor(t, func() bool { return s.Revealed() == 3 })

	got := rec.snapshot()
	want := []string{"a", "a b", "a b c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("publish %d: got %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}

	// A shrinking or identical target adds no new work.
	s.SetTarget("a b")
	s.SetTarget("a b c")
	time.Sleep(50 * time.Millisecond)
	if s.Revealed() != 3 {
		t.Errorf("revealed count changed to %d after non-growing targets", s.Revealed())
	}
}

func TestRevealAll_BypassesPacing(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := New(rec.publish, WithBaseDelay(time.Hour)) // pacing would never finish
	defer s.Close()

	s.SetTarget("one two three four")
	waitFor(t, func() bool { return s.Revealed() >= 1 })

	s.RevealAll()
	if s.Revealed() != 4 {
		t.Fatalf("revealed %d words, want 4", s.Revealed())
	}
	got := rec.snapshot()
	if last := got[len(got)-1]; last != "one two three four" {
		t.Errorf("final publish: got %q", last)
	}
}

func TestPlaceholder_AppearsAndClears(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := fastScheduler(rec)
	defer s.Close()

	s.NewTurn()
	waitFor(t, func() bool {
		for _, e := range rec.snapshot() {
			if e == Placeholder {
				return true
			}
		}
		return false
	})

	s.SetTarget("hello")
	waitFor(t, func() bool { return s.Revealed() == 1 })
	got := rec.snapshot()
	if last := got[len(got)-1]; last != "hello" {
		t.Errorf("final publish: got %q, want %q", last, "hello")
	}
}

func TestPlaceholder_SuppressedWhenWordsArriveInTime(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := fastScheduler(rec)
	defer s.Close()

	s.NewTurn()
	s.SetTarget("prompt reply")
	waitFor(t, func() bool { return s.Revealed() == 2 })

	time.Sleep(60 * time.Millisecond) // past the grace window
	for _, e := range rec.snapshot() {
		if e == Placeholder {
			t.Fatal("placeholder shown despite words arriving within grace")
		}
	}
}

func TestForceText_ReplacesDisplay(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := New(rec.publish, WithBaseDelay(time.Hour))
	defer s.Close()

	s.SetTarget("a long reply that will be cancelled")
	waitFor(t, func() bool { return s.Revealed() >= 1 })

	s.ForceText("[stopped]")
	got := rec.snapshot()
	if last := got[len(got)-1]; last != "[stopped]" {
		t.Errorf("final publish: got %q", last)
	}
	time.Sleep(20 * time.Millisecond)
	if s.Revealed() != 1 {
		t.Errorf("queued words leaked after ForceText: revealed=%d", s.Revealed())
	}
}

func TestNewTurn_StartsFresh(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := fastScheduler(rec)
	defer s.Close()

	s.SetTarget("first turn text")
	waitFor(t, func() bool { return s.Revealed() == 3 })

	s.NewTurn()
	if s.Revealed() != 0 {
		t.Fatalf("revealed not cleared by NewTurn: %d", s.Revealed())
	}

	s.SetTarget("second")
	waitFor(t, func() bool { return s.Revealed() == 1 })
	got := rec.snapshot()
	if last := got[len(got)-1]; last != "second" {
		t.Errorf("final publish: got %q", last)
	}
}

func TestAppend_ToolResultJoinsQueue(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := fastScheduler(rec)
	defer s.Close()

	s.SetTarget("Sure.")
	s.Append("[lookup] completed.")
	waitFor(t, func() bool { return s.Revealed() == 3 })

	got := rec.snapshot()
	if last := got[len(got)-1]; !strings.HasSuffix(last, "[lookup] completed.") {
		t.Errorf("final publish: got %q", last)
	}
}

func TestSetTarget_GrowsAfterAppend(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	s := fastScheduler(rec)
	defer s.Close()

	s.SetTarget("a b")
	s.Append("[lookup] done.")
	s.SetTarget("a b c")
	waitFor(t, func() bool { return s.Revealed() == 5 })

	got := rec.snapshot()
	if last := got[len(got)-1]; !strings.HasSuffix(last, "c") {
		t.Errorf("target growth after an append was swallowed: final publish %q", last)
	}
}

func TestRevealAll_FinalPublishWinsOverLateSteps(t *testing.T) {
	t.Parallel()

	const full = "one two three four five six seven eight"
	for i := 0; i < 25; i++ {
		rec := &recorder{}
		s := New(rec.publish, WithBaseDelay(time.Millisecond))

		s.SetTarget(full)
		waitFor(t, func() bool { return s.Revealed() >= 1 })
		s.RevealAll()

		// Let any in-flight timer step finish before inspecting.
		time.Sleep(10 * time.Millisecond)
		got := rec.snapshot()
		if last := got[len(got)-1]; last != full {
			t.Fatalf("run %d: display left on stale prefix %q", i, last)
		}
		s.Close()
	}
}

func TestSetPacing_AppliesToSubsequentReveals(t *testing.T) {
	t.Parallel()

	s := New(func(string) {})
	before := s.delayFor("word")

	s.SetPacing(time.Millisecond, 2*time.Millisecond, 3*time.Millisecond, 4*time.Millisecond)

	if got := s.delayFor("word"); got != time.Millisecond {
		t.Errorf("base delay after SetPacing = %v, want 1ms", got)
	}
	if got := s.delayFor("done."); got != 4*time.Millisecond {
		t.Errorf("sentence delay after SetPacing = %v, want 4ms", got)
	}
	if before == s.delayFor("word") {
		t.Error("SetPacing had no effect on the base delay")
	}
}
