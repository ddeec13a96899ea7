package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/models"
)

func httptestServer(t *testing.T, handler http.Handler) string {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server.URL
}

func crmmockError(code int) error {
	return httperror.NewHTTPError(code, "injected failure")
}

type fakeEvents struct {
	runs   []string
	err    error
	onEmit func()
}

func (f *fakeEvents) EmitGroup(ctx context.Context, runID string, trace models.GroupTrace) error {
	f.runs = append(f.runs, runID)
	if f.onEmit != nil {
		f.onEmit()
	}
	return f.err
}

type fakeJournal struct {
	runID   uuid.UUID
	rules   map[string]any
	groups  []models.GroupTrace
	status  string
	summary models.RunSummary
	err     error
}

func (f *fakeJournal) StartRun(ctx context.Context, runID uuid.UUID, dryRun bool, rules map[string]any) error {
	f.runID = runID
	f.rules = rules
	return f.err
}

func (f *fakeJournal) RecordGroup(ctx context.Context, runID uuid.UUID, trace models.GroupTrace) error {
	f.groups = append(f.groups, trace)
	return f.err
}

func (f *fakeJournal) FinishRun(ctx context.Context, runID uuid.UUID, status string, summary models.RunSummary, runErr error) error {
	f.status = status
	f.summary = summary
	return f.err
}
