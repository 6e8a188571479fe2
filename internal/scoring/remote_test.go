package scoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnizeh/cvpipe/internal/scoring"
)

type fakeCompleter struct {
	text   string
	err    error
	delay  time.Duration
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.text, f.err
}

var in = scoring.Input{DraftID: "d1", ResumeText: "go developer", JobDescription: "go developer wanted"}

func TestRemoteScorer_ParsesResponse(t *testing.T) {
	fc := &fakeCompleter{text: `{"atsScore": 72.6, "matchScore": 64, "missingSkills": ["Terraform"], "panelsAllowed": ["ATS","MATCH"], "parsingMeta": {"sections": 4}, "keywordHits": {"go": 2}}`}
	s := scoring.NewRemoteScorer(fc, time.Second)

	res, err := s.Score(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 73, res.ATSScore)
	assert.Equal(t, 64, res.MatchScore)
	assert.Equal(t, []string{"Terraform"}, res.MissingSkills)
	assert.Equal(t, []string{"ATS", "MATCH"}, res.PanelsAllowed)
	assert.Equal(t, map[string]any{"sections": float64(4)}, res.ParsingMeta)
	assert.Equal(t, map[string]any{"go": float64(2)}, res.KeywordHits)
	assert.Contains(t, fc.prompt, "go developer wanted")
}

func TestRemoteScorer_FieldDefaultsAndClamping(t *testing.T) {
	fc := &fakeCompleter{text: "```json\n{\"atsScore\": 140, \"matchScore\": \"high\", \"missingSkills\": \"none\", \"keywordHits\": [1]}\n```"}
	s := scoring.NewRemoteScorer(fc, time.Second)

	res, err := s.Score(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 100, res.ATSScore)
	assert.Equal(t, 60, res.MatchScore)
	assert.Equal(t, []string{}, res.MissingSkills)
	assert.Equal(t, []string{"ATS"}, res.PanelsAllowed)
	assert.Equal(t, map[string]any{}, res.ParsingMeta)
	assert.Equal(t, map[string]any{}, res.KeywordHits)
}

func TestRemoteScorer_NegativeScoreClampsToZero(t *testing.T) {
	res, err := scoring.ParseResult(`{"atsScore": -3, "matchScore": 0.4}`)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ATSScore)
	assert.Equal(t, 0, res.MatchScore)
}

func TestParseResult_ObjectInsideProse(t *testing.T) {
	res, err := scoring.ParseResult(`Here you go: {"atsScore": 90} hope it helps`)
	require.NoError(t, err)
	assert.Equal(t, 90, res.ATSScore)
	assert.Equal(t, 60, res.MatchScore)
}

func TestRemoteScorer_FallsBackEntirely(t *testing.T) {
	local := scoring.Heuristic(in.ResumeText, in.JobDescription)

	cases := map[string]*fakeCompleter{
		"malformed json": {text: `{"atsScore": 9`},
		"empty text":     {text: "   "},
		"not an object":  {text: `[1,2,3]`},
		"network error":  {err: errors.New("connection refused")},
		"timeout":        {text: `{"atsScore": 99}`, delay: time.Second},
	}
	for name, fc := range cases {
		t.Run(name, func(t *testing.T) {
			s := scoring.NewRemoteScorer(fc, 20*time.Millisecond)
			res, err := s.Score(context.Background(), in)
			require.NoError(t, err)

			assert.Equal(t, local.ATSScore, res.ATSScore)
			assert.Equal(t, local.MatchScore, res.MatchScore)
			assert.Equal(t, local.MissingSkills, res.MissingSkills)
			assert.Equal(t, "fallback", res.ParsingMeta["source"])
		})
	}
}

func TestNewScorer(t *testing.T) {
	s, err := scoring.NewScorer(scoring.Config{})
	require.NoError(t, err)
	assert.IsType(t, scoring.LocalScorer{}, s)

	s, err = scoring.NewScorer(scoring.Config{Provider: scoring.ProviderMessages})
	require.NoError(t, err)
	assert.IsType(t, scoring.LocalScorer{}, s, "no api key degrades to local")

	cfg := scoring.Config{}
	cfg.Messages.APIKey = "k"
	s, err = scoring.NewScorer(cfg)
	require.NoError(t, err)
	assert.IsType(t, &scoring.RemoteScorer{}, s)

	cfg = scoring.Config{Provider: scoring.ProviderOllama}
	cfg.Ollama.BaseURL = "http://localhost:11434"
	s, err = scoring.NewScorer(cfg)
	require.NoError(t, err)
	require.IsType(t, &scoring.RemoteScorer{}, s)
	assert.NoError(t, s.(*scoring.RemoteScorer).Close())

	_, err = scoring.NewScorer(scoring.Config{Provider: "bogus"})
	assert.Error(t, err)
}

type checkingCompleter struct {
	fakeCompleter
	err error
}

func (c *checkingCompleter) Health(ctx context.Context) error { return c.err }

func TestRemoteScorer_Health(t *testing.T) {
	down := errors.New("connection refused")

	s := scoring.NewRemoteScorer(&checkingCompleter{err: down}, time.Second)
	assert.ErrorIs(t, s.Health(context.Background()), down)

	s = scoring.NewRemoteScorer(&checkingCompleter{}, time.Second)
	assert.NoError(t, s.Health(context.Background()))

	s = scoring.NewRemoteScorer(&fakeCompleter{}, time.Second)
	assert.NoError(t, s.Health(context.Background()), "completers without a check are always healthy")
}
