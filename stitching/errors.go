package stitching

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInsufficientReferenceData = errors.New("insufficient reference data")
	ErrIncompatibleChunking      = errors.New("chunking parameters incompatible with series")
	ErrEmptyArchive              = errors.New("archive filter produced no rows")
	ErrTargetLeak                = errors.New("archive allow-list contains the target experiment")
	ErrNoCandidates              = errors.New("no archive candidates for target chunk")
	ErrNoRecipes                 = errors.New("matching produced no recipes")
	ErrEmptyComparison           = errors.New("no comparison trajectories")
	ErrGriddedUnavailable        = errors.New("gridded stitching is enabled but no gridded stitcher is configured")
)

// Stage names reported in StageError.
const (
	StageLoadTarget     = "load-target"
	StageChunk          = "chunk"
	StageLoadArchive    = "load-archive"
	StageLoadCatalog    = "load-catalog"
	StageLoadComparison = "load-comparison"
	StageMatch          = "match"
	StageStitch         = "stitch"
	StageGridded        = "gridded"
	StageCompare        = "compare"
	StageRender         = "render"
	StageWriteOutputs   = "write-outputs"
)

// StageError reports which stage failed and on which input.
type StageError struct {
	Stage string
	Input string
	Err   error
}

func (e *StageError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s (%s): %v", e.Stage, e.Input, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage, input string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Input: input, Err: err}
}
