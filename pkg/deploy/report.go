package deploy

import (
	"time"

	"github.com/andrej220/webdeploy/pkg/executor"
	"github.com/google/uuid"
)

type Report struct {
	ID       uuid.UUID    `json:"id"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Steps    []StepReport `json:"steps"`
	Error    string       `json:"error,omitempty"`
}

type StepReport struct {
	Step     Step             `json:"step"`
	Started  time.Time        `json:"started"`
	Duration time.Duration    `json:"duration"`
	Result   *executor.Result `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (r *Report) add(step Step, start time.Time, res *executor.Result, err error) {
	sr := StepReport{Step: step, Started: start, Duration: time.Since(start), Result: res}
	if err != nil {
		sr.Error = err.Error()
	}
	r.Steps = append(r.Steps, sr)
}

func (r *Report) finish(err error) {
	r.Finished = time.Now()
	if err != nil {
		r.Error = err.Error()
	}
}

// Attempted lists the steps in the order they ran.
func (r *Report) Attempted() []Step {
	steps := make([]Step, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, s.Step)
	}
	return steps
}

func (r *Report) Succeeded() bool {
	return r.Error == ""
}
