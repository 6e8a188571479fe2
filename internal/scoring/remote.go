package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"
)

// DefaultRemoteTimeout bounds a single remote completion.
const DefaultRemoteTimeout = 20 * time.Second

const defaultRemoteScore = 60

// Completer sends a prompt to a text-completion service and returns its text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RemoteScorer asks a completion service for the score and falls back to
// Fallback when the call or the response is unusable.
type RemoteScorer struct {
	Completer Completer
	Fallback  Scorer
	Timeout   time.Duration
}

var _ Scorer = (*RemoteScorer)(nil)

func NewRemoteScorer(c Completer, timeout time.Duration) *RemoteScorer {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &RemoteScorer{Completer: c, Fallback: LocalScorer{}, Timeout: timeout}
}

const instructions = `You are an ATS resume analyzer. Compare the resume with the job description.
Respond with ONLY a single JSON object and nothing else, no markdown and no code fences, using exactly this shape:
{"atsScore": <integer 0-100>, "matchScore": <integer 0-100>, "missingSkills": [<string>], "panelsAllowed": [<string>], "parsingMeta": {}, "keywordHits": {}}`

// Prompt renders the fixed instruction prompt for the given input.
func Prompt(in Input) string {
	return fmt.Sprintf("%s\n\nRESUME:\n%s\n\nJOB DESCRIPTION:\n%s\n", instructions, in.ResumeText, in.JobDescription)
}

// Score never returns an error: remote failures fold into the fallback result,
// which is marked with parsingMeta.source = "fallback".
func (s *RemoteScorer) Score(ctx context.Context, in Input) (Result, error) {
	res, err := s.remote(ctx, in)
	if err == nil {
		return res, nil
	}

	logger.Warn("remote scoring failed; using local heuristic",
		slog.String("draftId", in.DraftID), slog.Any("err", err))

	fb := s.Fallback
	if fb == nil {
		fb = LocalScorer{}
	}
	res, ferr := fb.Score(ctx, in)
	if ferr != nil {
		return Result{}, ferr
	}
	if res.ParsingMeta == nil {
		res.ParsingMeta = map[string]any{}
	}
	res.ParsingMeta["source"] = "fallback"
	return res, nil
}

func (s *RemoteScorer) remote(ctx context.Context, in Input) (Result, error) {
	if s.Completer == nil {
		return Result{}, errors.New("no completer configured")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := s.Completer.Complete(ctx, Prompt(in))
	if err != nil {
		return Result{}, fmt.Errorf("completion failed: %w", err)
	}
	return ParseResult(text)
}

// Close releases the completer when it holds resources.
func (s *RemoteScorer) Close() error {
	if c, ok := s.Completer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Health reports the completer's reachability when it can check itself;
// otherwise it returns nil.
func (s *RemoteScorer) Health(ctx context.Context) error {
	if h, ok := s.Completer.(interface {
		Health(context.Context) error
	}); ok {
		return h.Health(ctx)
	}
	return nil
}

// ParseResult decodes a completion into a Result. The text must hold a JSON
// object (optionally fenced); individual fields that are missing or of the
// wrong type get defaults.
func ParseResult(text string) (Result, error) {
	body := cleanMarkdownJSON(text)
	if body == "" {
		return Result{}, errors.New("empty completion")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		// models sometimes wrap the object in prose
		start, end := strings.Index(body, "{"), strings.LastIndex(body, "}")
		if start < 0 || end <= start {
			return Result{}, fmt.Errorf("completion is not json: %w", err)
		}
		if err2 := json.Unmarshal([]byte(body[start:end+1]), &raw); err2 != nil {
			return Result{}, fmt.Errorf("completion is not json: %w", err)
		}
	}
	if raw == nil {
		return Result{}, errors.New("completion is not a json object")
	}

	panels, ok := stringSlice(raw["panelsAllowed"])
	if !ok {
		panels = []string{DefaultPanel}
	}
	missing, _ := stringSlice(raw["missingSkills"])

	return Result{
		ATSScore:      score(raw["atsScore"]),
		MatchScore:    score(raw["matchScore"]),
		MissingSkills: missing,
		PanelsAllowed: panels,
		ParsingMeta:   object(raw["parsingMeta"]),
		KeywordHits:   object(raw["keywordHits"]),
	}, nil
}

// cleanMarkdownJSON removes code fences if the model added them anyway.
func cleanMarkdownJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	return strings.TrimSpace(content)
}

func score(v any) int {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultRemoteScore
	}
	if f < 0 {
		return 0
	}
	if f > 100 {
		return 100
	}
	return int(math.Round(f))
}

// stringSlice reports false when v is not an array. Non-string elements are dropped.
func stringSlice(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return []string{}, false
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func object(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
