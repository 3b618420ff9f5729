package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argus-dev/argus/internal/domain"
	"github.com/argus-dev/argus/internal/ports"
)

var evalCanaryPattern = regexp.MustCompile(`exact token ([0-9a-f]+)`)

func TestEvaluateNoLLMReturnsErr(t *testing.T) {
	e := NewEvaluator(nil, &fakeForge{})
	_, err := e.Evaluate(context.Background(), "o", "r", ports.Issue{}, RepoSnapshot{})
	require.ErrorIs(t, err, ErrLLMUnavailable)
}

func TestEvaluateHonorsVerdictOnFirstTurn(t *testing.T) {
	llm := &fakeLLM{fn: func(_ context.Context, messages []ports.LLMMessage) (string, error) {
		sys := messages[0].Content
		m := evalCanaryPattern.FindStringSubmatch(sys)
		require.Len(t, m, 2)
		resp := map[string]any{
			"canary": m[1], "merit": true, "confidence": 0.9,
			"reasoning": "looks real", "proposed_approach": "patch the parser",
			"affected_files": []string{"a.go"}, "suggested_labels": []string{"bug"},
			"severity": "high", "category": "bug",
		}
		raw, _ := json.Marshal(resp)
		return string(raw), nil
	}}
	e := NewEvaluator(llm, &fakeForge{})
	eval, err := e.Evaluate(context.Background(), "o", "r", ports.Issue{Title: "t", Body: "b"}, RepoSnapshot{})
	require.NoError(t, err)
	require.True(t, eval.Merit)
	require.Equal(t, domain.SeverityHigh, eval.Severity)
}

func TestEvaluateFollowsReadFilesDirectiveThenVerdict(t *testing.T) {
	turn := 0
	llm := &fakeLLM{fn: func(_ context.Context, messages []ports.LLMMessage) (string, error) {
		turn++
		if turn == 1 {
			return "READ_FILES: a.go, b.go", nil
		}
		last := messages[len(messages)-1].Content
		require.Contains(t, last, "a.go")
		sys := messages[0].Content
		m := evalCanaryPattern.FindStringSubmatch(sys)
		resp := map[string]any{
			"canary": m[1], "merit": true, "confidence": 0.8, "reasoning": "ok",
			"severity": "low", "category": "bug",
		}
		raw, _ := json.Marshal(resp)
		return string(raw), nil
	}}
	forge := &fakeForge{files: map[string]string{"a.go": "package a", "b.go": "package b"}}
	e := NewEvaluator(llm, forge)
	eval, err := e.Evaluate(context.Background(), "o", "r", ports.Issue{}, RepoSnapshot{})
	require.NoError(t, err)
	require.True(t, eval.Merit)
	require.Equal(t, 2, turn)
}

func TestEvaluateLowConfidenceRejectionOverride(t *testing.T) {
	llm := &fakeLLM{fn: func(_ context.Context, messages []ports.LLMMessage) (string, error) {
		sys := messages[0].Content
		m := evalCanaryPattern.FindStringSubmatch(sys)
		resp := map[string]any{
			"canary": m[1], "merit": false, "confidence": 0.4, "reasoning": "unclear",
			"severity": "low", "category": "question",
		}
		raw, _ := json.Marshal(resp)
		return string(raw), nil
	}}
	e := NewEvaluator(llm, &fakeForge{})
	eval, err := e.Evaluate(context.Background(), "o", "r", ports.Issue{}, RepoSnapshot{})
	require.NoError(t, err)
	require.True(t, eval.Merit)
	require.True(t, eval.LowConfidenceFlip)
	require.Contains(t, eval.SuggestedLabels, "argus:low-confidence-override")
}

func TestEvaluateHighConfidenceRejectionStands(t *testing.T) {
	llm := &fakeLLM{fn: func(_ context.Context, messages []ports.LLMMessage) (string, error) {
		sys := messages[0].Content
		m := evalCanaryPattern.FindStringSubmatch(sys)
		resp := map[string]any{
			"canary": m[1], "merit": false, "confidence": 0.95, "reasoning": "clearly spam",
			"severity": "trivial", "category": "invalid",
		}
		raw, _ := json.Marshal(resp)
		return string(raw), nil
	}}
	e := NewEvaluator(llm, &fakeForge{})
	eval, err := e.Evaluate(context.Background(), "o", "r", ports.Issue{}, RepoSnapshot{})
	require.NoError(t, err)
	require.False(t, eval.Merit)
	require.False(t, eval.LowConfidenceFlip)
}

func TestEvaluateCanaryMismatchFailsOpen(t *testing.T) {
	llm := &fakeLLM{fn: func(_ context.Context, _ []ports.LLMMessage) (string, error) {
		resp := map[string]any{"canary": "wrong", "merit": false, "confidence": 0.9}
		raw, _ := json.Marshal(resp)
		return string(raw), nil
	}}
	e := NewEvaluator(llm, &fakeForge{})
	eval, err := e.Evaluate(context.Background(), "o", "r", ports.Issue{}, RepoSnapshot{})
	require.NoError(t, err)
	require.True(t, eval.Merit)
	require.Contains(t, eval.SuggestedLabels, "argus:canary-failure")
}

func TestEvaluateLLMErrorFailsOpen(t *testing.T) {
	llm := &fakeLLM{fn: func(_ context.Context, _ []ports.LLMMessage) (string, error) {
		return "", fmt.Errorf("boom")
	}}
	e := NewEvaluator(llm, &fakeForge{})
	eval, err := e.Evaluate(context.Background(), "o", "r", ports.Issue{}, RepoSnapshot{})
	require.NoError(t, err)
	require.True(t, eval.Merit)
	require.Contains(t, eval.SuggestedLabels, "argus:parse-failure")
}

func TestEvaluateExhaustsTurnsFailsOpen(t *testing.T) {
	llm := &fakeLLM{fn: func(_ context.Context, _ []ports.LLMMessage) (string, error) {
		return "READ_FILES: x.go", nil
	}}
	e := NewEvaluator(llm, &fakeForge{})
	eval, err := e.Evaluate(context.Background(), "o", "r", ports.Issue{}, RepoSnapshot{})
	require.NoError(t, err)
	require.True(t, eval.Merit)
	require.Contains(t, eval.SuggestedLabels, "argus:needs-review")
}
