package window

import (
	"fmt"
	"testing"
	"time"

	"github.com/TatyanaRTV/ai-agent-sub000/pkg/types"
)

func turn(user, agent string) types.Turn {
	return *types.NewTurn(user, agent, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func TestWindow_AppendDropsOldestFIFO(t *testing.T) {
	w := New(Config{Capacity: 3, HistoryCapacity: 10})

	for i := 0; i < 5; i++ {
		w.Append(turn(fmt.Sprintf("user %d", i), fmt.Sprintf("agent %d", i)))
	}

	if w.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", w.Len())
	}
	recent := w.Recent(0)
	if recent[0].UserText != "user 2" || recent[2].UserText != "user 4" {
		t.Errorf("window = [%s .. %s], want [user 2 .. user 4]",
			recent[0].UserText, recent[2].UserText)
	}
}

func TestWindow_RecentReturnsLastN(t *testing.T) {
	w := New(Config{Capacity: 5})
	for i := 0; i < 4; i++ {
		w.Append(turn(fmt.Sprintf("user %d", i), "ok"))
	}

	recent := w.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("Recent(2) returned %d turns", len(recent))
	}
	if recent[0].UserText != "user 2" || recent[1].UserText != "user 3" {
		t.Errorf("Recent(2) = [%s, %s], want oldest-first last two",
			recent[0].UserText, recent[1].UserText)
	}

	if got := w.Recent(100); len(got) != 4 {
		t.Errorf("Recent(100) returned %d turns, want all 4", len(got))
	}
}

func TestWindow_FindCaseInsensitiveNewestFirst(t *testing.T) {
	w := New(Config{Capacity: 10})
	w.Append(turn("tell me about the Weather", "it is sunny"))
	w.Append(turn("anything else", "no"))
	w.Append(turn("what was that?", "the weather forecast, sunny"))

	found := w.Find("WEATHER", 5)
	if len(found) != 2 {
		t.Fatalf("Find(WEATHER) returned %d turns, want 2", len(found))
	}
	if found[0].AgentText != "the weather forecast, sunny" {
		t.Errorf("Find()[0] = %q, want the newest match", found[0].AgentText)
	}

	if found := w.Find("weather", 1); len(found) != 1 {
		t.Errorf("Find(limit=1) returned %d turns", len(found))
	}
	if found := w.Find("nonexistent topic", 5); len(found) != 0 {
		t.Errorf("Find(no match) returned %d turns", len(found))
	}
}

func TestWindow_FindSearchesUserAndAgentText(t *testing.T) {
	w := New(Config{Capacity: 10})
	w.Append(turn("hello", "your booking code is XK42"))

	if found := w.Find("xk42", 5); len(found) != 1 {
		t.Errorf("Find over agent text returned %d turns, want 1", len(found))
	}
}

func TestWindow_ClearKeepsHistory(t *testing.T) {
	w := New(Config{Capacity: 3, HistoryCapacity: 10})
	w.Append(turn("remember this", "noted"))
	w.Append(turn("and this", "noted too"))

	w.Clear()

	if w.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", w.Len())
	}
	if found := w.Find("remember", 5); len(found) != 1 {
		t.Errorf("history lost after Clear: Find returned %d turns", len(found))
	}
	if h := w.History(0); len(h) != 2 {
		t.Errorf("History() after Clear returned %d turns, want 2", len(h))
	}
}

func TestWindow_HistoryBounded(t *testing.T) {
	w := New(Config{Capacity: 2, HistoryCapacity: 4})
	for i := 0; i < 6; i++ {
		w.Append(turn(fmt.Sprintf("user %d", i), "ok"))
	}

	h := w.History(0)
	if len(h) != 4 {
		t.Fatalf("History() returned %d turns, want 4", len(h))
	}
	if h[0].UserText != "user 2" {
		t.Errorf("oldest retained history turn = %q, want user 2", h[0].UserText)
	}
}

func TestWindow_Stats(t *testing.T) {
	w := New(Config{Capacity: 2, HistoryCapacity: 10})
	w.Append(turn("a", "b"))
	w.Append(turn("c", "d"))
	w.Append(turn("e", "f"))

	s := w.Stats()
	if s.WindowSize != 2 || s.HistorySize != 3 {
		t.Errorf("Stats sizes = %d/%d, want 2/3", s.WindowSize, s.HistorySize)
	}
	if s.Capacity != 2 || s.HistoryCapacity != 10 {
		t.Errorf("Stats limits = %d/%d, want 2/10", s.Capacity, s.HistoryCapacity)
	}
}
