package rates

import "testing"

func TestWindow_Allow(t *testing.T) {
	var w Window
	for i := 0; i < 3; i++ {
		if ok, _ := w.Allow(10, 20, 3); !ok {
			t.Fatalf("event %d rejected", i)
		}
	}
	ok, cd := w.Allow(15, 20, 3)
	if ok || cd != 5 {
		t.Fatalf("4th event: ok=%v cooldown=%d", ok, cd)
	}
	if ok, _ := w.Allow(30, 20, 3); !ok {
		t.Fatalf("new window rejected")
	}
	if ok, _ := w.Allow(31, 0, 0); !ok {
		t.Fatalf("disabled limit rejected")
	}
}

func TestLimiter_PerKey(t *testing.T) {
	l := NewLimiter(10, 1)
	if ok, _ := l.Allow("a", 5); !ok {
		t.Fatalf("a rejected")
	}
	if ok, _ := l.Allow("a", 6); ok {
		t.Fatalf("a allowed twice in one window")
	}
	if ok, _ := l.Allow("b", 6); !ok {
		t.Fatalf("b rejected")
	}
	if ok, _ := l.Allow("a", 15); !ok {
		t.Fatalf("a rejected after window")
	}

	var nilLimiter *Limiter
	if ok, _ := nilLimiter.Allow("x", 1); !ok {
		t.Fatalf("nil limiter rejected")
	}
}

func TestLimiter_SweepsExpiredWindows(t *testing.T) {
	l := NewLimiter(5, 1)
	for i := 0; i < sweepAt; i++ {
		l.Allow(string(rune('a'+i%26))+string(rune(i)), 0)
	}
	l.Allow("late", 100)
	if n := l.Len(); n != 1 {
		t.Fatalf("windows after sweep = %d", n)
	}
}
