package appraisal

import (
	"fmt"
	"strings"
)

// Stage is a position in the approval sequence. The numeric value is the
// canonical ordering; StageNone marks a submission that was never submitted.
type Stage int

const (
	StageNone Stage = iota
	StageSelfEval
	StageManagerReview
	StageSkipLevel
	StageHRConfirm
	StageCompleted
)

var stageNames = [...]string{
	StageNone:          "",
	StageSelfEval:      "SELF_EVAL",
	StageManagerReview: "MANAGER_REVIEW",
	StageSkipLevel:     "SKIP_LEVEL",
	StageHRConfirm:     "HR_CONFIRM",
	StageCompleted:     "COMPLETED",
}

func (s Stage) String() string {
	if s < StageNone || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

func ParseStage(raw string) (Stage, error) {
	value := strings.ToUpper(strings.TrimSpace(raw))
	for idx, name := range stageNames {
		if name == value {
			return Stage(idx), nil
		}
	}
	return StageNone, fmt.Errorf("unknown approval stage %q", raw)
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	parsed, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Stage) reviewable() bool {
	return s >= StageSelfEval && s <= StageHRConfirm
}

// Pipeline is the ordered list of review stages a submission passes through.
// Passing the last stage completes the submission.
type Pipeline []Stage

var DefaultPipeline = Pipeline{StageSelfEval, StageManagerReview, StageSkipLevel, StageHRConfirm}

func (p Pipeline) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidPipeline)
	}
	prev := StageNone
	for _, stage := range p {
		if !stage.reviewable() {
			return fmt.Errorf("%w: %s is not a review stage", ErrInvalidPipeline, stage)
		}
		if stage <= prev {
			return fmt.Errorf("%w: stages out of order at %s", ErrInvalidPipeline, stage)
		}
		prev = stage
	}
	return nil
}

func (p Pipeline) First() Stage {
	return p[0]
}

func (p Pipeline) indexOf(stage Stage) int {
	for idx, candidate := range p {
		if candidate == stage {
			return idx
		}
	}
	return -1
}

// Advance returns the stage after current, or StageCompleted when current is
// the last one.
func (p Pipeline) Advance(current Stage) (Stage, error) {
	idx := p.indexOf(current)
	if idx < 0 {
		return current, fmt.Errorf("%w: stage %s not in pipeline", ErrInvalidTransition, current)
	}
	if idx == len(p)-1 {
		return StageCompleted, nil
	}
	return p[idx+1], nil
}

func (p Pipeline) Retreat(current Stage) (Stage, error) {
	idx := p.indexOf(current)
	if idx < 0 {
		return current, fmt.Errorf("%w: stage %s not in pipeline", ErrInvalidTransition, current)
	}
	if idx == 0 {
		return current, ErrCannotReturnFromFirstStage
	}
	return p[idx-1], nil
}

func (p Pipeline) Strings() []string {
	out := make([]string, 0, len(p))
	for _, stage := range p {
		out = append(out, stage.String())
	}
	return out
}

func ParsePipeline(values []string) (Pipeline, error) {
	out := make(Pipeline, 0, len(values))
	for _, value := range values {
		stage, err := ParseStage(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
		}
		out = append(out, stage)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
