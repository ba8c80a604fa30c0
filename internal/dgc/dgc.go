// Package dgc implements the lease-based safety-net reaper of unreferenced
// skeletons (spec §4.5 Distributed GC).
package dgc

import (
	"sync"
	"time"

	"github.com/op/go-logging"
	uuid "github.com/satori/go.uuid"

	"github.com/kryptco/agilerpc/internal/skeleton"
)

var log = logging.MustGetLogger("dgc")

// Reaper periodically scans every skeleton and unpublishes any that have
// been unreferenced, unnamed, and idle for at least leaseTime — the
// "tolerates lost Finalize messages" safety net described in spec §4.5.
type Reaper struct {
	leaseTime time.Duration
	skeletons func() []*skeleton.Skeleton
	unpublish func(*skeleton.Skeleton)

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Reaper. skeletons lists all currently published skeletons;
// unpublish removes one; in rmi it is Skeleton.Unpublish, which runs the
// registry's onUnpublish removal hook and then the object's Unreferenced
// capability. It must be idempotent, since a skeleton's own scheduled timer
// may fire concurrently (spec §9).
func New(leaseTime time.Duration, skeletons func() []*skeleton.Skeleton, unpublish func(*skeleton.Skeleton)) *Reaper {
	return &Reaper{
		leaseTime: leaseTime,
		skeletons: skeletons,
		unpublish: unpublish,
		stop:      make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until Stop is called.
func (r *Reaper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.leaseTime)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Reaper) Stop() {
	close(r.stop)
	r.wg.Wait()
}

func (r *Reaper) sweep() {
	cycleID := uuid.NewV4().String()
	now := time.Now()
	var reaped int
	for _, s := range r.skeletons() {
		if !s.Eligible() {
			continue
		}
		if now.Sub(s.LastUse()) < r.leaseTime {
			continue
		}
		r.unpublish(s)
		reaped++
	}
	if reaped > 0 {
		log.Noticef("dgc sweep %s reaped %d skeleton(s)", cycleID, reaped)
	} else {
		log.Debugf("dgc sweep %s: nothing eligible", cycleID)
	}
}
