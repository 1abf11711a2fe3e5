package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loomgen/internal/ledger"
	"github.com/loomworks/loomgen/internal/pipeline"
	"github.com/loomworks/loomgen/internal/provider"
	"github.com/loomworks/loomgen/internal/request"
	"github.com/loomworks/loomgen/internal/scheduler"
)

// dispatcherFunc adapts a function to the pipeline's Dispatcher interface.
type dispatcherFunc func(ctx context.Context, req request.Request) (string, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, req request.Request) (string, error) {
	return f(ctx, req)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRouting() pipeline.Routing {
	return pipeline.Routing{
		GenerationProvider: "openai",
		GenerationModel:    "gen-model",
		FormatProvider:     "openai",
		FormatModel:        "fmt-model",
	}
}

// newTestPipeline wires a pipeline over temp dirs with the given stub
// dispatcher. It returns the pipeline and the output directory.
func newTestPipeline(t *testing.T, disciplines []string, d pipeline.Dispatcher) (*pipeline.Pipeline, string) {
	t.Helper()

	dir := t.TempDir()
	inputPath := filepath.Join(dir, "disciplines.jsonl")
	require.NoError(t, os.WriteFile(inputPath, []byte(strings.Join(disciplines, "\n")+"\n"), 0o644))

	led, err := ledger.NewFileLedger(filepath.Join(dir, "ledger"), testLogger())
	require.NoError(t, err)

	outputDir := filepath.Join(dir, "checkpoints")
	p := pipeline.New(d, led, pipeline.Config{
		DisciplinesFile: inputPath,
		OutputDir:       outputDir,
		Routing:         testRouting(),
		Concurrency:     2,
	}, testLogger())

	return p, outputDir
}

// stubModels answers generation calls with raw prose and format calls with
// JSONL. Format calls are routed on prompt content: class-details
// extraction prompts mention class sessions, subject formatting prompts do
// not.
func stubModels(t *testing.T, subjectsResponse, detailsResponse string) dispatcherFunc {
	t.Helper()
	return func(ctx context.Context, req request.Request) (string, error) {
		switch req.Model {
		case "gen-model":
			return "- Algorithms: The study of computational procedures.\n- Data Structures: How data is organized.", nil
		case "fmt-model":
			if strings.Contains(req.Prompt, "class session") {
				return detailsResponse, nil
			}
			return subjectsResponse, nil
		default:
			t.Errorf("unexpected model %q", req.Model)
			return "", errors.New("unexpected model")
		}
	}
}

func TestRunSubjectsWritesValidatedJSONL(t *testing.T) {
	t.Parallel()

	formatted := `{"subject_name": "Algorithms", "level": "Intermediate", "introduction": "The study of computational procedures."}
this line is not JSON and must be dropped
{"subject_name": "Data Structures", "level": "Introductory", "introduction": "How data is organized."}`

	p, outputDir := newTestPipeline(t, []string{
		`{"discipline_name": "Computer Science", "field": "Formal Sciences"}`,
		`{"discipline_name": "Pure Mathematics", "field": "Formal Sciences", "sub_field": "Analysis"}`,
	}, stubModels(t, formatted, "{}"))

	report, err := p.RunSubjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Zero(t, report.Failed)

	for _, name := range []string{"Computer_Science_subjects.jsonl", "Pure_Mathematics_subjects.jsonl"} {
		data, err := os.ReadFile(filepath.Join(outputDir, "subjects", name))
		require.NoError(t, err, "expected subjects file %s", name)

		lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		assert.Len(t, lines, 2, "invalid line should have been dropped")
		assert.Contains(t, lines[0], "Algorithms")
	}
}

func TestRunSubjectsFailsWhenNoValidLines(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, []string{
		`{"discipline_name": "Chemistry"}`,
	}, stubModels(t, "Sorry, I cannot produce JSONL today.", "{}"))

	report, err := p.RunSubjects(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Succeeded)

	require.Len(t, report.Items, 1)
	assert.Equal(t, scheduler.StatusFailed, report.Items[0].Status)
	assert.ErrorIs(t, report.Items[0].Err, provider.ErrMalformedOutput)
}

func TestRunSubjectsSkipsCompletedOnRerun(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	formatted := `{"subject_name": "Mechanics", "level": "Introductory", "introduction": "Motion and forces."}`
	stub := stubModels(t, formatted, "{}")
	counting := dispatcherFunc(func(ctx context.Context, req request.Request) (string, error) {
		calls.Add(1)
		return stub(ctx, req)
	})

	p, _ := newTestPipeline(t, []string{
		`{"discipline_name": "Physics"}`,
	}, counting)

	report, err := p.RunSubjects(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	firstCalls := calls.Load()
	require.Positive(t, firstCalls)

	report, err = p.RunSubjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Succeeded)
	assert.Equal(t, firstCalls, calls.Load(), "rerun must not call the model")
}

func TestRunSubjectsMissingNameFailsItem(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, []string{
		`{"field": "Formal Sciences"}`,
	}, stubModels(t, "{}", "{}"))

	report, err := p.RunSubjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestRunSyllabiProducesTwoArtifacts(t *testing.T) {
	t.Parallel()

	details := `{"class_session_name": "Week 1: Limits", "class_session_description": "Introduces limits.", "key_concepts": ["Epsilon-delta", "Continuity"]}`
	p, outputDir := newTestPipeline(t, []string{
		`{"discipline_name": "unused"}`,
	}, stubModels(t, "{}", details))

	subjectsDir := filepath.Join(outputDir, "subjects")
	require.NoError(t, os.MkdirAll(subjectsDir, 0o755))
	subjects := `{"subject_name": "Real Analysis", "level": "Advanced", "introduction": "Rigorous calculus."}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(subjectsDir, "Mathematics_subjects.jsonl"), []byte(subjects), 0o644))

	report, err := p.RunSyllabi(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)

	syllabus, err := os.ReadFile(filepath.Join(outputDir, "syllabi", "Real_Analysis_syllabus.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(syllabus), "Algorithms", "raw generation output is stored verbatim")

	detailsData, err := os.ReadFile(filepath.Join(outputDir, "syllabi", "Real_Analysis_class_details.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, details+"\n", string(detailsData))

	require.Len(t, report.Items, 1)
	assert.Len(t, report.Items[0].Artifacts, 2)
}

func TestRunSyllabiWithoutSubjectsFails(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, []string{
		`{"discipline_name": "unused"}`,
	}, stubModels(t, "{}", "{}"))

	_, err := p.RunSyllabi(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run the subjects stage first")
}

func TestRunAllSequencesStages(t *testing.T) {
	t.Parallel()

	subjects := `{"subject_name": "Thermodynamics", "level": "Intermediate", "introduction": "Heat and energy."}`
	details := `{"class_session_name": "Session 1", "class_session_description": "Overview.", "key_concepts": ["Entropy"]}`
	p, outputDir := newTestPipeline(t, []string{
		`{"discipline_name": "Physics"}`,
	}, stubModels(t, subjects, details))

	reports, err := p.RunAll(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, 1, reports[0].Succeeded)
	assert.Equal(t, 1, reports[1].Succeeded)

	assert.FileExists(t, filepath.Join(outputDir, "subjects", "Physics_subjects.jsonl"))
	assert.FileExists(t, filepath.Join(outputDir, "syllabi", "Thermodynamics_syllabus.txt"))
	assert.FileExists(t, filepath.Join(outputDir, "syllabi", "Thermodynamics_class_details.jsonl"))

	snapshot := p.Progress()
	assert.True(t, snapshot.Done)
}

func TestProgressBeforeAnyRunIsZero(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, []string{`{"discipline_name": "x"}`}, stubModels(t, "{}", "{}"))
	assert.Equal(t, scheduler.Snapshot{}, p.Progress())
}
