package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultRunAt   = "00:05"
	defaultLockTTL = 30 * time.Minute
)

// SchedulerConfig configures the daily sweep.
type SchedulerConfig struct {
	RunAt    string
	Timezone string
	LockTTL  time.Duration
	LockKey  string
}

// Scheduler runs the sweeper once a day at a wall-clock time.
type Scheduler struct {
	sweeper  *Sweeper
	locker   Locker
	hour     int
	minute   int
	location *time.Location
	lockTTL  time.Duration
	lockKey  string
	now      func() time.Time
}

// NewScheduler validates cfg and constructs a Scheduler. A nil locker uses the
// in-process lock only.
func NewScheduler(sweeper *Sweeper, locker Locker, cfg SchedulerConfig) (*Scheduler, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("maintenance: nil sweeper")
	}
	runAt := strings.TrimSpace(cfg.RunAt)
	if runAt == "" {
		runAt = defaultRunAt
	}
	parsed, errParse := time.Parse("15:04", runAt)
	if errParse != nil {
		return nil, fmt.Errorf("maintenance: invalid run-at %q: %w", cfg.RunAt, errParse)
	}
	location := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loaded, errLoad := time.LoadLocation(tz)
		if errLoad != nil {
			return nil, fmt.Errorf("maintenance: invalid timezone %q: %w", tz, errLoad)
		}
		location = loaded
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	key := strings.TrimSpace(cfg.LockKey)
	if key == "" {
		key = defaultLockKey
	}
	return &Scheduler{
		sweeper:  sweeper,
		locker:   locker,
		hour:     parsed.Hour(),
		minute:   parsed.Minute(),
		location: location,
		lockTTL:  ttl,
		lockKey:  key,
		now:      time.Now,
	}, nil
}

// Start runs the schedule loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go s.run(ctx)
	log.Infof("maintenance scheduler started (daily at %02d:%02d %s)", s.hour, s.minute, s.location)
}

func (s *Scheduler) run(ctx context.Context) {
	for {
		wait := s.NextRun(s.now()).Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, _, err := s.RunLocked(ctx); err != nil {
				log.WithError(err).Warn("maintenance scheduler: sweep failed")
			}
		}
	}
}

// NextRun returns the first scheduled time strictly after from.
func (s *Scheduler) NextRun(from time.Time) time.Time {
	local := from.In(s.location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, s.minute, 0, 0, s.location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, s.minute, 0, 0, s.location)
	}
	return next
}

// RunLocked sweeps once while holding the maintenance lock. ran is false when
// another instance holds the lock.
func (s *Scheduler) RunLocked(ctx context.Context) (summary Summary, ran bool, err error) {
	release, ok, errAcquire := s.locker.Acquire(ctx, s.lockKey, s.lockTTL)
	if errAcquire != nil {
		return Summary{}, false, fmt.Errorf("maintenance: acquire lock: %w", errAcquire)
	}
	if !ok {
		log.Info("maintenance scheduler: lock held elsewhere, skipping run")
		return Summary{}, false, nil
	}
	defer release()
	summary, err = s.sweeper.RunOnce(ctx)
	return summary, true, err
}
