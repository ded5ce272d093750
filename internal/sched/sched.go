// Package sched computes the desired virtual-user concurrency at any point
// in a staged load profile.
package sched

import (
	"fmt"
	"math"
	"time"
)

// Stage is one segment of the load profile: ramp linearly from the previous
// stage's target (0 for the first stage) to Target over Duration.
// A zero Duration makes the target jump instantly.
type Stage struct {
	Duration time.Duration `yaml:"duration"`
	Target   int           `yaml:"target"`
}

// Plan is an immutable, piecewise-linear concurrency curve. It is a pure
// function of elapsed time and safe for concurrent reads.
type Plan struct {
	stages []Stage
	flat   int
	total  time.Duration
}

// NewPlan builds a Plan from a stage list. With no stages, the plan holds a
// constant flat target for flatDuration.
func NewPlan(stages []Stage, flat int, flatDuration time.Duration) (*Plan, error) {
	if flat < 0 {
		return nil, fmt.Errorf("flat target must be non-negative, got %d", flat)
	}
	if len(stages) == 0 {
		if flat == 0 {
			return nil, fmt.Errorf("no stages given and flat target is 0: nothing to run")
		}
		if flatDuration <= 0 {
			return nil, fmt.Errorf("flat load requires a positive duration, got %s", flatDuration)
		}
		return &Plan{flat: flat, total: flatDuration}, nil
	}

	var total time.Duration
	for i, s := range stages {
		if s.Duration < 0 {
			return nil, fmt.Errorf("stage %d: duration must be non-negative, got %s", i, s.Duration)
		}
		if s.Target < 0 {
			return nil, fmt.Errorf("stage %d: target must be non-negative, got %d", i, s.Target)
		}
		total += s.Duration
	}
	if total == 0 {
		return nil, fmt.Errorf("stages sum to zero duration: nothing to run")
	}

	cp := make([]Stage, len(stages))
	copy(cp, stages)
	return &Plan{stages: cp, total: total}, nil
}

// Total returns the planned run duration.
func (p *Plan) Total() time.Duration {
	return p.total
}

// TargetAt returns the desired VU count at the given elapsed time.
// Within a stage the target is interpolated linearly between the previous
// stage's target and the stage's own, rounded to the nearest integer.
// Past the end of the plan the last target is held.
func (p *Plan) TargetAt(elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}
	if len(p.stages) == 0 {
		return p.flat
	}

	prev := 0
	var start time.Duration
	for _, s := range p.stages {
		end := start + s.Duration
		if elapsed < end {
			if s.Duration == 0 {
				return s.Target
			}
			frac := float64(elapsed-start) / float64(s.Duration)
			v := float64(prev) + (float64(s.Target)-float64(prev))*frac
			t := int(math.Round(v))
			if t < 0 {
				t = 0
			}
			return t
		}
		prev = s.Target
		start = end
	}
	return p.stages[len(p.stages)-1].Target
}

// Done reports whether the plan has run its full course at elapsed.
func (p *Plan) Done(elapsed time.Duration) bool {
	return elapsed >= p.total
}
