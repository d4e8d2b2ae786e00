package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestSlidingWindowBoundary(t *testing.T) {
	l := NewSlidingWindow(time.Minute)
	for i := 0; i < 5; i++ {
		if d := l.Allow("get_flight_status:user-1", 5); !d.Allowed {
			t.Fatalf("call %d should be admitted", i+1)
		}
	}
	if d := l.Allow("get_flight_status:user-1", 5); d.Allowed {
		t.Fatal("6th call inside the window must be rate limited")
	}
}

func TestSlidingWindowDenialNotRecorded(t *testing.T) {
	l := NewSlidingWindow(time.Minute)
	l.Allow("k", 1)
	for i := 0; i < 10; i++ {
		l.Allow("k", 1)
	}
	d := l.Allow("k", 1)
	if d.Count != 1 {
		t.Fatalf("denied calls must not consume slots, count=%d", d.Count)
	}
}

func TestSlidingWindowExpiry(t *testing.T) {
	l := NewSlidingWindow(time.Minute)
	now := time.Now().UTC()
	l.now = func() time.Time { return now }
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatal("first call should pass")
	}
	if d := l.Allow("k", 1); d.Allowed {
		t.Fatal("second call inside window should fail")
	}
	l.now = func() time.Time { return now.Add(61 * time.Second) }
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatal("call after window elapses should pass again")
	}
}

func TestSlidingWindowKeyIsolation(t *testing.T) {
	l := NewSlidingWindow(time.Minute)
	l.Allow("tool-a:user-1", 1)
	if d := l.Allow("tool-a:user-2", 1); !d.Allowed {
		t.Fatal("windows must be per key")
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedis(client, time.Minute)

	for i := 0; i < 3; i++ {
		if d := l.Allow("create_work_order:eng-1", 3); !d.Allowed {
			t.Fatalf("call %d should be admitted", i+1)
		}
	}
	if d := l.Allow("create_work_order:eng-1", 3); d.Allowed {
		t.Fatal("4th call must be rate limited")
	}
	// Denials must not consume slots: after the window passes the key is
	// fully available again.
	mr.FastForward(61 * time.Second)
	if d := l.Allow("create_work_order:eng-1", 3); !d.Allowed {
		t.Fatal("call after window should be admitted")
	}
}

func TestRedisLimiterFallsBack(t *testing.T) {
	l := NewRedis(nil, time.Minute)
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatal("fallback should admit first call")
	}
	if d := l.Allow("k", 1); d.Allowed {
		t.Fatal("fallback should enforce the limit")
	}
}
