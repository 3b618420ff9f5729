package pipeline

import (
	"context"
	"time"

	"github.com/argus-dev/argus/internal/ports"
)

type fakeLLM struct {
	fn func(ctx context.Context, messages []ports.LLMMessage) (string, error)
}

func (f *fakeLLM) Send(ctx context.Context, messages []ports.LLMMessage) (string, error) {
	return f.fn(ctx, messages)
}

type fakeForge struct {
	ports.Forge
	files        map[string]string
	searchHits   map[string][]string
	pr           ports.PullRequest
	combined     ports.CombinedStatus
	checkRuns    []ports.CheckRun
	annotations  map[int64][]string
	createdFiles map[string]string
}

func (f *fakeForge) GetFileContent(_ context.Context, _, _, _, path string) (string, error) {
	c, ok := f.files[path]
	if !ok {
		return "", errNotFound
	}
	return c, nil
}

func (f *fakeForge) SearchCode(_ context.Context, _, _, query string) ([]string, error) {
	return f.searchHits[query], nil
}

func (f *fakeForge) GetPR(_ context.Context, _, _ string, _ int) (ports.PullRequest, error) {
	return f.pr, nil
}

func (f *fakeForge) GetCombinedStatus(_ context.Context, _, _, _ string) (ports.CombinedStatus, error) {
	return f.combined, nil
}

func (f *fakeForge) GetCheckRuns(_ context.Context, _, _, _ string) ([]ports.CheckRun, error) {
	return f.checkRuns, nil
}

func (f *fakeForge) GetCheckRunAnnotations(_ context.Context, _, _ string, id int64) ([]string, error) {
	return f.annotations[id], nil
}

func (f *fakeForge) CreateOrUpdateFile(_ context.Context, _, _, _, path, content, _ string) error {
	if f.createdFiles == nil {
		f.createdFiles = map[string]string{}
	}
	f.createdFiles[path] = content
	return nil
}

func (f *fakeForge) GetIssue(_ context.Context, _, _ string, _ int) (ports.Issue, error) {
	return ports.Issue{}, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

func noSleep(time.Duration) {}
