package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/loomworks/loomgen/internal/batch"
	"github.com/loomworks/loomgen/internal/ledger"
	"github.com/loomworks/loomgen/internal/provider"
	"github.com/loomworks/loomgen/internal/request"
	"github.com/loomworks/loomgen/internal/scheduler"
)

// discipline is one record of the disciplines input file.
type discipline struct {
	DisciplineName string `json:"discipline_name"`
	Field          string `json:"field"`
	SubField       string `json:"sub_field"`
}

// subjectsVersion covers everything that shapes a subjects artifact: the
// prompt templates and the model routing. Changing any of them reruns the
// stage for all items.
func (p *Pipeline) subjectsVersion() ledger.Version {
	return ledger.VersionOf(
		"subjects",
		promptSource("subject_list.tmpl"),
		promptSource("subject_format.tmpl"),
		p.config.Routing.GenerationProvider,
		p.config.Routing.GenerationModel,
		p.config.Routing.FormatProvider,
		p.config.Routing.FormatModel,
	)
}

// RunSubjects generates a subjects file per discipline: a free-form subject
// list from the generation model, restructured into JSONL by the format
// model, validated line by line before anything is written.
func (p *Pipeline) RunSubjects(ctx context.Context) (*scheduler.Report, error) {
	items, err := batch.FromJSONL(p.config.DisciplinesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load disciplines: %w", err)
	}

	p.logger.InfoContext(ctx, "starting subjects stage",
		"disciplines", len(items),
		"input", p.config.DisciplinesFile)

	return p.runStage(ctx, p.subjectsVersion(), items, p.subjectsTask)
}

func (p *Pipeline) subjectsTask(ctx context.Context, item batch.Item) ([]string, error) {
	var d discipline
	if err := json.Unmarshal(item.Payload, &d); err != nil {
		return nil, fmt.Errorf("invalid discipline record: %w", err)
	}
	if d.DisciplineName == "" {
		return nil, fmt.Errorf("discipline record missing discipline_name")
	}

	logger := p.logger.With("discipline", d.DisciplineName)

	listPrompt, err := renderPrompt("subject_list.tmpl", map[string]string{
		"Name":     d.DisciplineName,
		"Field":    d.Field,
		"SubField": d.SubField,
	})
	if err != nil {
		return nil, err
	}

	rawList, err := p.dispatcher.Dispatch(ctx, request.Request{
		Provider: p.config.Routing.GenerationProvider,
		Model:    p.config.Routing.GenerationModel,
		Prompt:   listPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate subject list: %w", err)
	}

	formatPrompt, err := renderPrompt("subject_format.tmpl", map[string]string{
		"Name":    d.DisciplineName,
		"RawList": rawList,
	})
	if err != nil {
		return nil, err
	}

	formatted, err := p.dispatcher.Dispatch(ctx, request.Request{
		Provider: p.config.Routing.FormatProvider,
		Model:    p.config.Routing.FormatModel,
		Prompt:   formatPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format subject list: %w", err)
	}

	lines := validJSONLines(ctx, formatted, logger)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no valid JSON lines in formatted subject list for %q",
			provider.ErrMalformedOutput, d.DisciplineName)
	}

	outPath := filepath.Join(p.subjectsDir(), safeName(d.DisciplineName)+"_subjects.jsonl")
	if err := writeFileAtomic(outPath, joinLines(lines)); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "wrote subjects file", "path", outPath, "subjects", len(lines))
	return []string{outPath}, nil
}

// validJSONLines filters a model response down to its parseable JSON lines.
// Invalid lines are logged and dropped rather than failing the item, since
// format models routinely wrap output in stray prose.
func validJSONLines(ctx context.Context, raw string, logger *slog.Logger) [][]byte {
	var lines [][]byte
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			logger.WarnContext(ctx, "dropping invalid JSON line from model output",
				"line_prefix", truncate(line, 80))
			continue
		}
		lines = append(lines, []byte(line))
	}
	return lines
}

func joinLines(lines [][]byte) []byte {
	var out []byte
	for _, line := range lines {
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
