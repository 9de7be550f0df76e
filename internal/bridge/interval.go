package bridge

import "time"

// IntervalCaptureJob is a repeated shutter trigger. 0 <= Index <= Total.
type IntervalCaptureJob struct {
	Index       int           `json:"index"`
	Total       int           `json:"total"`
	Period      time.Duration `json:"period"`
	LastFiredAt time.Time     `json:"last_fired_at"`
	Enabled     bool          `json:"enabled"`
}

// Scheduler drives at most one IntervalCaptureJob.
type Scheduler struct {
	job     IntervalCaptureJob
	skipped int
}

func (s *Scheduler) Job() IntervalCaptureJob { return s.job }

func (s *Scheduler) Enabled() bool { return s.job.Enabled }

// Start arms a job, replacing any running one. The first trigger fires on
// the next tick.
func (s *Scheduler) Start(total int, period time.Duration, state ConnectionState) error {
	const op = "interval_start"
	if state != Connected {
		return reject(op, ErrNotConnected, "")
	}
	if total < 1 {
		return reject(op, ErrUnsupported, "count must be at least 1")
	}
	if period <= 0 {
		return reject(op, ErrUnsupported, "period must be positive")
	}
	s.job = IntervalCaptureJob{Total: total, Period: period, Enabled: true}
	s.skipped = 0
	return nil
}

// Cancel disables the job and reports whether one was running.
func (s *Scheduler) Cancel() bool {
	was := s.job.Enabled
	s.job.Enabled = false
	s.job.Index = 0
	s.skipped = 0
	return was
}

// OnTick fires the trigger when a slot is due. A slot the camera was too busy
// to take still counts, so cadence is kept over completeness. The report is
// returned exactly once, when the last slot is consumed.
func (s *Scheduler) OnTick(now time.Time, trigger func() error) (IntervalReport, bool) {
	if !s.job.Enabled {
		return IntervalReport{}, false
	}
	if !s.job.LastFiredAt.IsZero() && now.Sub(s.job.LastFiredAt) < s.job.Period {
		return IntervalReport{}, false
	}
	if err := trigger(); err != nil {
		s.skipped++
	}
	s.job.Index++
	s.job.LastFiredAt = now
	if s.job.Index < s.job.Total {
		return IntervalReport{}, false
	}

	report := IntervalReport{Job: s.job, Skipped: s.skipped}
	report.Job.Enabled = false
	s.job.Enabled = false
	s.job.Index = 0
	s.skipped = 0
	return report, true
}
