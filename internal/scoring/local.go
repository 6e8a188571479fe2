package scoring

import (
	"context"
	"math"
	"strings"
)

// fixed list reported as missing whenever a job description is present
var placeholderSkills = []string{"Kubernetes", "GraphQL"}

// LocalScorer is a deterministic word-count-ratio heuristic with no I/O.
type LocalScorer struct{}

var _ Scorer = LocalScorer{}

func (LocalScorer) Score(_ context.Context, in Input) (Result, error) {
	return Heuristic(in.ResumeText, in.JobDescription), nil
}

// Heuristic scores by the ratio of the shorter text's word count to the
// longer one's. Either text being empty gives a ratio of 0.5.
func Heuristic(resumeText, jobDescription string) Result {
	resumeWords := len(strings.Fields(resumeText))
	jobWords := len(strings.Fields(jobDescription))

	ratio := 0.5
	if resumeWords > 0 && jobWords > 0 {
		ratio = float64(min(resumeWords, jobWords)) / float64(max(resumeWords, jobWords))
	}

	missing := []string{}
	if jobWords > 0 {
		missing = append(missing, placeholderSkills[:min(2, len(placeholderSkills))]...)
	}

	return Result{
		ATSScore:      clamp(int(math.Round(60+ratio*40)), 55, 95),
		MatchScore:    clamp(int(math.Round(50+ratio*35)), 40, 90),
		MissingSkills: missing,
		PanelsAllowed: []string{DefaultPanel},
		ParsingMeta:   map[string]any{"resumeTokens": resumeWords, "jobTokens": jobWords},
		KeywordHits:   map[string]any{"overlapRatio": roundTo(ratio, 2)},
	}
}
