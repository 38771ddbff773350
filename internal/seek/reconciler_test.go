package seek

import (
	"testing"
	"time"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestObserveWithoutIntent(t *testing.T) {
	r := New(Config{MaxReissues: DefaultMaxReissues})
	if d := r.Observe(1, epoch, false, nil); d.Action != None {
		t.Fatalf("action = %s", d.Action)
	}
}

func TestReissueBudget(t *testing.T) {
	tests := []struct {
		name     string
		reports  []float64
		want     []Action
		reissues int
	}{
		{"first report lands", []float64{5.05}, []Action{Satisfied}, 0},
		{"one wrong then lands", []float64{1.0, 5.0}, []Action{Reissue, Satisfied}, 1},
		{"two wrong then lands", []float64{1.0, 2.0, 4.95}, []Action{Reissue, Reissue, Satisfied}, 2},
		{"never lands", []float64{1.0, 2.0, 3.0, 3.5}, []Action{Reissue, Reissue, Abandon, None}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Config{MaxReissues: DefaultMaxReissues})
			now := epoch
			r.Begin(At(5.0), now)
			reissued := 0
			for i, pos := range tt.reports {
				now = now.Add(50 * time.Millisecond)
				d := r.Observe(pos, now, false, nil)
				if d.Action != tt.want[i] {
					t.Fatalf("report %d (%v): action %s want %s", i, pos, d.Action, tt.want[i])
				}
				if d.Action == Reissue {
					reissued++
					if d.Target != 5.0 {
						t.Fatalf("reissue target = %v", d.Target)
					}
				}
			}
			if reissued != tt.reissues {
				t.Fatalf("reissued %d, want %d", reissued, tt.reissues)
			}
		})
	}
}

func TestWaitWhileApplying(t *testing.T) {
	r := New(Config{MaxReissues: DefaultMaxReissues})
	r.Begin(At(5), epoch)
	for i := 0; i < 5; i++ {
		if d := r.Observe(0, epoch.Add(10*time.Millisecond), true, nil); d.Action != Wait {
			t.Fatalf("action = %s, want wait", d.Action)
		}
	}
	intent, ok := r.Active()
	if !ok || intent.Reissues != 0 {
		t.Fatalf("waiting must not spend the budget: %+v", intent)
	}
}

func TestStaleIntentCleared(t *testing.T) {
	r := New(Config{MaxReissues: DefaultMaxReissues})
	r.Begin(At(5), epoch)
	if d := r.Observe(0, epoch.Add(DefaultFreshness+time.Millisecond), false, nil); d.Action != Stale {
		t.Fatalf("action = %s, want stale", d.Action)
	}
	if _, ok := r.Active(); ok {
		t.Fatal("stale intent should be cleared")
	}
}

func TestTouchExtendsFreshness(t *testing.T) {
	r := New(Config{MaxReissues: DefaultMaxReissues})
	r.Begin(At(5), epoch)
	r.Touch(epoch.Add(2 * time.Second))
	if d := r.Observe(5, epoch.Add(2100*time.Millisecond), false, nil); d.Action != Satisfied {
		t.Fatalf("action = %s", d.Action)
	}
}

func TestWordTargetReresolved(t *testing.T) {
	r := New(Config{MaxReissues: DefaultMaxReissues})
	at := 3.0
	resolve := func(target Target) (float64, bool) {
		if target.ClipID != "B" || target.WordIndex != 0 {
			return 0, false
		}
		return at, true
	}
	r.Begin(Word("B", 0), epoch)
	d := r.Observe(0, epoch, false, resolve)
	if d.Action != Reissue || d.Target != 3.0 {
		t.Fatalf("decision = %+v", d)
	}
	at = 0
	if d := r.Observe(0.02, epoch, false, resolve); d.Action != Satisfied {
		t.Fatalf("after reorder the word sits at 0: %+v", d)
	}

	r.Begin(Word("gone", 1), epoch)
	if d := r.Observe(0, epoch, false, resolve); d.Action != Abandon {
		t.Fatalf("unresolvable word: %+v", d)
	}
}

func TestBeginReplacesIntent(t *testing.T) {
	r := New(Config{MaxReissues: DefaultMaxReissues})
	r.Begin(At(1), epoch)
	r.Observe(0, epoch, false, nil)
	r.Begin(At(2), epoch)
	intent, _ := r.Active()
	if intent.Target.EditedTime != 2 || intent.Reissues != 0 {
		t.Fatalf("intent = %+v", intent)
	}
}
