// Package plan derives the encoding concurrency budget from CPU
// topology and policy.
package plan

import "math"

// Plan is the read-only concurrency snapshot shared by the executor
// and the encoder invocation. Derived once at startup; a config reload
// replaces the whole value.
type Plan struct {
	TotalCores        int
	TargetThreads     int
	WorkersPerJob     int
	MaxConcurrentJobs int
}

// Policy is the configured input to plan derivation. Zero overrides
// mean "derive from core count".
type Policy struct {
	TargetUtilization float64
	WorkersOverride   int
	MaxJobsOverride   int
}

// ClampUtilization bounds the target utilization to [0.5, 1.0].
func ClampUtilization(util float64) float64 {
	return math.Min(1.0, math.Max(0.5, util))
}

// Derive computes the plan for the given logical core count. The
// computation is pure and deterministic: identical inputs always
// produce identical plans.
func Derive(totalCores int, policy Policy) Plan {
	util := ClampUtilization(policy.TargetUtilization)

	workers := policy.WorkersOverride
	if workers <= 0 {
		if totalCores >= 32 {
			workers = 8
		} else {
			workers = 4
		}
	}

	maxJobs := policy.MaxJobsOverride
	if maxJobs <= 0 {
		if totalCores >= 24 {
			maxJobs = 1
		} else {
			maxJobs = 2
		}
	}

	return Plan{
		TotalCores:        totalCores,
		TargetThreads:     int(math.Round(float64(totalCores) * util)),
		WorkersPerJob:     workers,
		MaxConcurrentJobs: maxJobs,
	}
}
