package dgc

import (
	"testing"
	"time"

	"github.com/kryptco/agilerpc/internal/skeleton"
)

func TestSweepReapsEligibleExpiredSkeletons(t *testing.T) {
	fresh := skeleton.New("fresh", &struct{}{}, 10, nil)
	fresh.BindName("fresh")

	stale := skeleton.New("stale", &struct{}{}, 10, nil)
	// Never bound to a name and never ref'd: eligible from the start, and
	// its lastUse (set at construction) is already in the past relative to
	// a near-zero lease time.

	var unpublished []string
	r := New(time.Millisecond, func() []*skeleton.Skeleton {
		return []*skeleton.Skeleton{fresh, stale}
	}, func(s *skeleton.Skeleton) {
		unpublished = append(unpublished, s.ID())
	})

	time.Sleep(5 * time.Millisecond)
	r.sweep()

	if len(unpublished) != 1 || unpublished[0] != "stale" {
		t.Fatalf("unpublished = %v, want exactly [stale]", unpublished)
	}
}

func TestSweepSkipsRecentlyUsedEligibleSkeletons(t *testing.T) {
	recent := skeleton.New("recent", &struct{}{}, 10, nil)
	recent.UpdateLastUse()

	var unpublished []string
	r := New(time.Hour, func() []*skeleton.Skeleton {
		return []*skeleton.Skeleton{recent}
	}, func(s *skeleton.Skeleton) {
		unpublished = append(unpublished, s.ID())
	})

	r.sweep()

	if len(unpublished) != 0 {
		t.Fatalf("unpublished = %v, want none (within lease time)", unpublished)
	}
}

func TestStartStop(t *testing.T) {
	r := New(time.Millisecond, func() []*skeleton.Skeleton { return nil }, func(*skeleton.Skeleton) {})
	r.Start()
	time.Sleep(5 * time.Millisecond)
	r.Stop()
}
