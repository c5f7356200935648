package metrics

import (
	"time"

	"kairosdeploy/pipeline"
)

// FromRun converts a finished pipeline run into samples: one duration and
// one outcome sample per executed stage, plus an overall outcome sample.
func FromRun(run *pipeline.Run) []Metric {
	now := time.Now()
	ms := make([]Metric, 0, 2*len(run.Results)+1)

	for _, res := range run.Results {
		labels := map[string]string{"stage": res.Stage.String()}
		ms = append(ms, Metric{
			Name:      "stage_duration_seconds",
			Value:     res.Elapsed().Seconds(),
			Labels:    labels,
			Timestamp: now,
		})
		ms = append(ms, Metric{
			Name:      "stage_success",
			Value:     boolValue(res.Status == pipeline.StatusSucceeded),
			Labels:    labels,
			Timestamp: now,
		})
	}

	ms = append(ms, Metric{
		Name:      "run_success",
		Value:     boolValue(run.Status == pipeline.RunSucceeded),
		Labels:    map[string]string{"run_id": run.ID},
		Timestamp: now,
	})
	return ms
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
