package progress

import (
	"math"
	"strconv"
	"strings"
	"time"

	"badgerline/internal/domain"
)

// Result is the outcome of evaluating a task against its evidence.
type Result struct {
	Completed          bool                      `json:"completed"`
	Percentage         int                       `json:"percentage"`
	VerificationStatus domain.VerificationStatus `json:"verification_status"`
	Requirements       []RequirementResult       `json:"requirements"`
}

type RequirementResult struct {
	Type      domain.RequirementType `json:"type"`
	Satisfied bool                   `json:"satisfied"`
	Ratio     float64                `json:"ratio"`
}

// Evaluate selects the algorithm by task type: fitness tasks are measured
// against the snapshot, every other task against the submissions.
func Evaluate(task domain.Task, submissions []domain.Submission, snapshot *domain.FitnessSnapshot) Result {
	if task.Type == domain.TaskFitness {
		return FromFitness(task, snapshot)
	}
	return FromSubmissions(task, submissions)
}

// FromSubmissions marks a requirement satisfied when any submission in the set
// satisfies it. Completion follows the rounded percentage.
func FromSubmissions(task domain.Task, submissions []domain.Submission) Result {
	res := Result{VerificationStatus: verificationFor(task)}
	satisfied := 0
	for _, req := range task.Requirements {
		ok := false
		for _, s := range submissions {
			if satisfies(req, s) {
				ok = true
				break
			}
		}
		rr := RequirementResult{Type: req.Type, Satisfied: ok}
		if ok {
			rr.Ratio = 1
			satisfied++
		}
		res.Requirements = append(res.Requirements, rr)
	}
	if n := len(task.Requirements); n > 0 {
		res.Percentage = percent(float64(satisfied) / float64(n))
	}
	res.Completed = res.Percentage == 100
	return res
}

// FromFitness averages the clamped per-requirement ratios. Completion needs
// every requirement at ratio 1, which can disagree with a rounded 100%.
func FromFitness(task domain.Task, snapshot *domain.FitnessSnapshot) Result {
	res := Result{VerificationStatus: verificationFor(task)}
	var snap domain.FitnessSnapshot
	if snapshot != nil {
		snap = *snapshot
	}
	total := 0.0
	reached := 0
	for _, req := range task.Requirements {
		ratio := 0.0
		observed, measured := snap.Metric(req.Type)
		target, numeric := req.Target.Numeric()
		switch {
		case !measured || !numeric:
		case target <= 0:
			ratio = 1
		default:
			ratio = math.Min(observed/target, 1)
		}
		if ratio < 0 {
			ratio = 0
		}
		if ratio >= 1 {
			reached++
		}
		total += ratio
		res.Requirements = append(res.Requirements, RequirementResult{Type: req.Type, Satisfied: ratio >= 1, Ratio: ratio})
	}
	n := len(task.Requirements)
	if n > 0 {
		res.Percentage = percent(total / float64(n))
	}
	res.Completed = n > 0 && reached == n
	return res
}

// Append adds a batch to the accumulated submissions and recomputes progress
// over the whole set. Submissions without a timestamp get now.
func Append(task domain.Task, batch []domain.Submission, now time.Time) (domain.Progress, Result) {
	p := task.Progress
	subs := make([]domain.Submission, 0, len(p.Submissions)+len(batch))
	subs = append(subs, p.Submissions...)
	for _, s := range batch {
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		subs = append(subs, s)
	}
	p.Submissions = subs
	res := Evaluate(task, subs, p.Fitness)
	return apply(p, res, now), res
}

// WithSnapshot replaces the fitness snapshot and recomputes progress.
func WithSnapshot(task domain.Task, snap domain.FitnessSnapshot, now time.Time) (domain.Progress, Result) {
	p := task.Progress
	s := snap
	p.Fitness = &s
	res := Evaluate(task, p.Submissions, p.Fitness)
	return apply(p, res, now), res
}

func apply(p domain.Progress, res Result, now time.Time) domain.Progress {
	p.Percentage = res.Percentage
	p.Completed = res.Completed
	p.VerificationStatus = res.VerificationStatus
	p.LastUpdated = now
	return p
}

func satisfies(req domain.Requirement, s domain.Submission) bool {
	switch req.Type {
	case domain.RequirementPhoto:
		return s.Type == domain.SubmissionPhoto
	case domain.RequirementVideo:
		return s.Type == domain.SubmissionVideo
	case domain.RequirementText:
		return s.Type == domain.SubmissionText && strings.TrimSpace(s.Content) != ""
	}
	if !req.Type.Numeric() || s.Type != domain.SubmissionData {
		return false
	}
	if tag := s.Metadata[domain.MetadataRequirement]; tag != "" && tag != string(req.Type) {
		return false
	}
	target, ok := req.Target.Numeric()
	if !ok {
		return false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s.Content), 64)
	if err != nil {
		return false
	}
	return v >= target
}

func verificationFor(task domain.Task) domain.VerificationStatus {
	if task.VerificationMethod == domain.VerifyAutomatic {
		return domain.VerificationApproved
	}
	return domain.VerificationPending
}

func percent(ratio float64) int {
	p := int(math.Round(ratio * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// CrossedMilestones returns the milestones in (before, after].
func CrossedMilestones(before, after int, milestones []int) []int {
	var out []int
	for _, m := range milestones {
		if m > before && m <= after {
			out = append(out, m)
		}
	}
	return out
}
