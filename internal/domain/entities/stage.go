package entities

import "fmt"

// Stage is one phase of the batch pipeline
type Stage string

const (
	StageExtraction Stage = "extraction"
	StageAnalysis   Stage = "analysis"
	StageSummary    Stage = "summary"
	StageExport     Stage = "export"
)

// StageWindow is the slice of global progress a stage owns, [Lo, Hi].
type StageWindow struct {
	Lo int
	Hi int
}

var stageWindows = map[Stage]StageWindow{
	StageExtraction: {Lo: 0, Hi: 30},
	StageAnalysis:   {Lo: 30, Hi: 80},
	StageSummary:    {Lo: 80, Hi: 90},
	StageExport:     {Lo: 90, Hi: 100},
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageExtraction, StageAnalysis, StageSummary, StageExport}
}

// Window returns the global progress window for the stage.
func (s Stage) Window() (StageWindow, bool) {
	w, ok := stageWindows[s]
	return w, ok
}

// GlobalProgress maps a stage-local completion percentage into global progress.
func GlobalProgress(stage Stage, stagePercent int) (int, error) {
	w, ok := stage.Window()
	if !ok {
		return 0, fmt.Errorf("unknown stage %q", stage)
	}
	if stagePercent < 0 {
		stagePercent = 0
	}
	if stagePercent > 100 {
		stagePercent = 100
	}
	return w.Lo + stagePercent*(w.Hi-w.Lo)/100, nil
}
