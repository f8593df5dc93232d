package rotation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/legit-games/secrets-service/models"
	"github.com/legit-games/secrets-service/store"
)

const defaultTickInterval = time.Minute

// leaderGate reports whether this instance should run scheduled work.
// Satisfied by *store.LeaderElection.
type leaderGate interface {
	IsLeader() bool
}

// alwaysLeader runs schedules unconditionally, for single-instance
// deployments with no valkey.
type alwaysLeader struct{}

func (alwaysLeader) IsLeader() bool { return true }

// Scheduler ticks on an interval and runs due rotation schedules, but only
// while this instance holds the leader lock.
type Scheduler struct {
	Schedules *store.RotationScheduleStore
	Rotator   *Rotator
	Interval  time.Duration

	leader leaderGate

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewScheduler(schedules *store.RotationScheduleStore, rotator *Rotator, leader *store.LeaderElection) *Scheduler {
	s := &Scheduler{
		Schedules: schedules,
		Rotator:   rotator,
		Interval:  defaultTickInterval,
		leader:    alwaysLeader{},
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if leader != nil {
		s.leader = leader
	}
	return s
}

// Start runs the tick loop until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if !s.leader.IsLeader() {
					continue
				}
				s.RunDue(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// RunDue executes every schedule whose next_rotation has passed. A failed
// run marks the schedule failed and moves on; one broken secret must not
// stall the rest.
func (s *Scheduler) RunDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.Schedules.ListDue(ctx, now)
	if err != nil {
		log.Printf("rotation: list due schedules: %v", err)
		return
	}
	for _, sched := range due {
		if err := s.runOne(ctx, sched, now); err != nil {
			log.Printf("rotation: schedule %s (secret %s): %v", sched.ID, sched.SecretID, err)
			if err := s.Schedules.MarkFailed(ctx, sched.ID); err != nil {
				log.Printf("rotation: mark failed %s: %v", sched.ID, err)
			}
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, sched models.RotationSchedule, now time.Time) error {
	if sched.Method == models.RotationWebhook {
		// Webhook-rotated secrets are driven by the external system through
		// the rotate endpoint; the schedule only tracks cadence.
		log.Printf("rotation: schedule %s is webhook-driven, skipping generation", sched.ID)
	} else {
		if _, _, err := s.Rotator.Regenerate(ctx, sched.SecretID, "rotation-scheduler"); err != nil {
			return err
		}
	}
	next, err := NextRotation(sched.Frequency, sched.CustomDays, now)
	if err != nil {
		return err
	}
	return s.Schedules.MarkRotated(ctx, sched.ID, now, next)
}
