// Package sampling decides which candidate frames of a session get analyzed.
package sampling

import (
	"math"
	"sort"

	"github.com/zatekoja/procedurecopilot/backend/internal/domain/entities"
	"github.com/zatekoja/procedurecopilot/backend/pkg/config"
)

const windowMS = 1000

// Policy controls the selection rate.
type Policy struct {
	// BaseRate is the selection rate in frames per second of source time
	// for ordinary motion.
	BaseRate float64

	// Motion above MotionThreshold raises the rate proportionally, up to
	// BaseRate*MaxBoost.
	MotionThreshold float64
	MaxBoost        float64

	// Motion below StaticThreshold lowers the rate linearly toward FloorRate.
	StaticThreshold float64
	FloorRate       float64

	// CeilingPerSecond caps non-keyframe selections in any one-second window.
	CeilingPerSecond int
}

// DefaultPolicy returns the default sampling policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseRate:         1.0,
		MotionThreshold:  0.3,
		MaxBoost:         3.0,
		StaticThreshold:  0.05,
		FloorRate:        0.2,
		CeilingPerSecond: 3,
	}
}

// PolicyFromConfig builds a policy from sampler configuration.
func PolicyFromConfig(cfg config.SamplerConfig) Policy {
	return Policy{
		BaseRate:         cfg.BaseRate,
		MotionThreshold:  cfg.MotionThreshold,
		MaxBoost:         cfg.MaxBoost,
		StaticThreshold:  cfg.StaticThreshold,
		FloorRate:        cfg.FloorRate,
		CeilingPerSecond: cfg.CeilingPerSecond,
	}
}

// RateFor returns the selection rate for a motion score.
func (p Policy) RateFor(motion float64) float64 {
	if math.IsNaN(motion) || motion < 0 {
		motion = 0
	}

	switch {
	case p.MotionThreshold > 0 && motion >= p.MotionThreshold:
		boost := motion / p.MotionThreshold
		if p.MaxBoost > 1 && boost > p.MaxBoost {
			boost = p.MaxBoost
		}
		if p.MaxBoost <= 1 {
			boost = 1
		}
		return p.BaseRate * boost
	case p.StaticThreshold > 0 && motion < p.StaticThreshold:
		return p.FloorRate + (p.BaseRate-p.FloorRate)*motion/p.StaticThreshold
	}
	return p.BaseRate
}

// Sampler applies a policy to candidate sequences.
type Sampler struct {
	policy Policy
}

// New creates a sampler
func New(policy Policy) *Sampler {
	if policy.BaseRate <= 0 {
		policy.BaseRate = DefaultPolicy().BaseRate
	}
	if policy.FloorRate <= 0 || policy.FloorRate > policy.BaseRate {
		policy.FloorRate = policy.BaseRate
	}
	if policy.CeilingPerSecond <= 0 {
		policy.CeilingPerSecond = int(math.Ceil(policy.BaseRate * math.Max(policy.MaxBoost, 1)))
	}
	return &Sampler{policy: policy}
}

// Policy returns the effective policy.
func (s *Sampler) Policy() Policy {
	return s.policy
}

// Select returns the frames to analyze in timestamp order. The result depends
// only on the candidates and the policy.
func (s *Sampler) Select(candidates []entities.CandidateFrame) []entities.CandidateFrame {
	ordered := make([]entities.CandidateFrame, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TimestampMS != ordered[j].TimestampMS {
			return ordered[i].TimestampMS < ordered[j].TimestampMS
		}
		return ordered[i].Index < ordered[j].Index
	})

	stream := s.NewStream()
	seen := make(map[int]struct{}, len(ordered))
	selected := make([]entities.CandidateFrame, 0, len(ordered))
	for _, c := range ordered {
		if _, dup := seen[c.Index]; dup {
			continue
		}
		seen[c.Index] = struct{}{}
		if stream.Offer(c) {
			selected = append(selected, c)
		}
	}
	return selected
}

// NewStream starts an incremental selection over candidates offered one at a
// time. Select is a sorted, deduplicated pass over a stream. Live frames do
// not go through the sampler; the capture cadence paces them.
func (s *Sampler) NewStream() *Stream {
	return &Stream{policy: s.policy}
}

// Stream is the incremental form of Select. Candidates must be offered in
// timestamp order. Not safe for concurrent use.
type Stream struct {
	policy  Policy
	hasLast bool
	lastMS  int64
	recent  []int64
}

// Offer reports whether the candidate is selected.
func (st *Stream) Offer(c entities.CandidateFrame) bool {
	st.expire(c.TimestampMS)

	if c.IsKeyframe {
		st.take(c.TimestampMS)
		return true
	}

	if len(st.recent) >= st.policy.CeilingPerSecond {
		return false
	}

	if st.hasLast {
		interval := float64(windowMS) / st.policy.RateFor(c.MotionScore)
		if float64(c.TimestampMS-st.lastMS) < interval {
			return false
		}
	}

	st.take(c.TimestampMS)
	return true
}

func (st *Stream) take(ts int64) {
	st.hasLast = true
	st.lastMS = ts
	st.recent = append(st.recent, ts)
}

// expire drops selections outside the window (ts-1s, ts].
func (st *Stream) expire(ts int64) {
	keep := 0
	for keep < len(st.recent) && st.recent[keep] <= ts-windowMS {
		keep++
	}
	st.recent = st.recent[keep:]
}
