package registry

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"deposit-reconciler-go/internal/models"
)

const testAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newTestRegistry(now *time.Time) *Registry {
	return New(Config{Prefix: "JTT-", Alphabet: testAlphabet, Length: 8, TTL: time.Hour}).
		WithClock(func() time.Time { return *now })
}

// seed places a known code, bypassing random generation.
func seed(r *Registry, code, owner string, createdAt time.Time) {
	r.byCode[code] = models.DepositCode{Code: code, OwnerId: owner, CreatedAt: createdAt}
	r.byOwner[owner] = code
}

func TestIssue_Format(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	code, err := r.Issue("u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !strings.HasPrefix(code.Code, "JTT-") || len(code.Code) != len("JTT-")+8 {
		t.Fatalf("Expected JTT- plus 8 characters, got %q", code.Code)
	}
	for _, c := range strings.TrimPrefix(code.Code, "JTT-") {
		if !strings.ContainsRune(testAlphabet, c) {
			t.Errorf("Unexpected character %q in %s", c, code.Code)
		}
	}
}

func TestIssue_SingleLiveCodePerOwner(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	first, _ := r.Issue("u1")
	second, _ := r.Issue("u1")

	if r.Len() != 1 {
		t.Errorf("Expected 1 live code, got %d", r.Len())
	}
	if first.Code != second.Code {
		if _, ok := r.Consume(first.Code); ok {
			t.Error("Expected first code to be invalidated by reissue")
		}
	}
	owner, ok := r.Consume(second.Code)
	if !ok || owner != "u1" {
		t.Errorf("Expected second code to resolve to u1, got %q/%v", owner, ok)
	}
}

func TestConsume_OnceAndCaseInsensitive(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)
	seed(r, "JTT-ABC23XYZ", "u1", now)

	owner, ok := r.Consume("  jtt-abc23xyz ")
	if !ok || owner != "u1" {
		t.Fatalf("Expected u1, got %q/%v", owner, ok)
	}
	if _, ok := r.Consume("JTT-ABC23XYZ"); ok {
		t.Error("Expected code to be consumed only once")
	}
	if _, ok := r.Lookup("u1"); ok {
		t.Error("Expected owner to have no live code after consume")
	}
}

func TestConsume_Expiry(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		matched bool
	}{
		{"fresh", time.Minute, true},
		{"exactly ttl", time.Hour, true},
		{"ttl plus 1ms", time.Hour + time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			now := created.Add(tt.age)
			r := newTestRegistry(&now)
			seed(r, "JTT-ABC23XYZ", "u1", created)

			_, ok := r.Consume("JTT-ABC23XYZ")
			if ok != tt.matched {
				t.Errorf("Expected matched=%v, got %v", tt.matched, ok)
			}
			if r.Len() != 0 {
				t.Errorf("Expected code removed, %d left", r.Len())
			}
		})
	}
}

func TestSweep(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := created
	r := newTestRegistry(&now)
	seed(r, "JTT-AAAAAAAA", "old", created)

	now = created.Add(30 * time.Minute)
	if _, err := r.Issue("new"); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	now = created.Add(time.Hour + time.Second)
	if removed := r.Sweep(); removed != 1 {
		t.Errorf("Expected 1 expired code swept, got %d", removed)
	}
	if _, ok := r.Lookup("new"); !ok {
		t.Error("Expected new code to survive sweep")
	}
}

func TestIssue_Unique(t *testing.T) {
	now := time.Now()
	r := newTestRegistry(&now)

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		code, err := r.Issue(fmt.Sprintf("owner-%d", i))
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if seen[code.Code] {
			t.Fatalf("Duplicate live code %s", code.Code)
		}
		seen[code.Code] = true
	}
}

func TestIssue_CollisionRetries(t *testing.T) {
	now := time.Now()
	codes := []string{"JTT-AAAAAAAA", "JTT-AAAAAAAA", "JTT-BBBBBBBB"}
	r := newTestRegistry(&now).WithGenerator(func() (string, error) {
		next := codes[0]
		codes = codes[1:]
		return next, nil
	})

	first, _ := r.Issue("u1")
	second, err := r.Issue("u2")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if first.Code != "JTT-AAAAAAAA" || second.Code != "JTT-BBBBBBBB" {
		t.Errorf("Expected collision to be skipped, got %s and %s", first.Code, second.Code)
	}
}
