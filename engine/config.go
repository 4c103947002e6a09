package engine

// Config tunes the Plan-Execute Engine's bounds, per spec §4.8/§5.
type Config struct {
	// MaxSteps bounds the total number of steps (across every replan
	// generation) a single workflow may accumulate.
	MaxSteps int
	// StepMemoryMaxAgeHours/MinRelevance/Max bound the per-step memory
	// retrieval at protocol step 2.
	StepMemoryMaxAgeHours float64
	StepMemoryMinRelevance float64
	StepMemoryMax          int
	// FullContentTopN is how many of the retrieved memories get their
	// full content attached to the composed task, versus summary only.
	FullContentTopN int
}

// DefaultConfig matches spec §4.8's literal bounds: maxAgeHours=2,
// minRelevance=0.3, max=5 for step memory retrieval, 100-step plan cap.
func DefaultConfig() Config {
	return Config{
		MaxSteps:               100,
		StepMemoryMaxAgeHours:  2,
		StepMemoryMinRelevance: 0.3,
		StepMemoryMax:          5,
		FullContentTopN:        2,
	}
}
