package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/loomworks/loomgen/internal/batch"
	"github.com/loomworks/loomgen/internal/ledger"
	"github.com/loomworks/loomgen/internal/provider"
	"github.com/loomworks/loomgen/internal/request"
	"github.com/loomworks/loomgen/internal/scheduler"
)

// subject is one record of a subjects file produced by the subjects stage.
type subject struct {
	SubjectName  string `json:"subject_name"`
	Level        string `json:"level"`
	Introduction string `json:"introduction"`
}

func (p *Pipeline) syllabiVersion() ledger.Version {
	return ledger.VersionOf(
		"syllabi",
		promptSource("syllabus.tmpl"),
		promptSource("class_details.tmpl"),
		p.config.Routing.GenerationProvider,
		p.config.Routing.GenerationModel,
		p.config.Routing.FormatProvider,
		p.config.Routing.FormatModel,
	)
}

// RunSyllabi generates two artifacts per subject found under the subjects
// output directory: the full syllabus text, and the per-session details
// extracted from it as JSONL.
func (p *Pipeline) RunSyllabi(ctx context.Context) (*scheduler.Report, error) {
	paths, err := filepath.Glob(filepath.Join(p.subjectsDir(), "*_subjects.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects files: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no subjects files found in %s; run the subjects stage first", p.subjectsDir())
	}
	sort.Strings(paths)

	var items []batch.Item
	for _, path := range paths {
		fileItems, err := batch.FromJSONL(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load subjects from %s: %w", path, err)
		}
		items = append(items, fileItems...)
	}

	p.logger.InfoContext(ctx, "starting syllabi stage",
		"subjects", len(items),
		"subject_files", len(paths))

	return p.runStage(ctx, p.syllabiVersion(), items, p.syllabiTask)
}

func (p *Pipeline) syllabiTask(ctx context.Context, item batch.Item) ([]string, error) {
	var s subject
	if err := json.Unmarshal(item.Payload, &s); err != nil {
		return nil, fmt.Errorf("invalid subject record: %w", err)
	}
	if s.SubjectName == "" {
		return nil, fmt.Errorf("subject record missing subject_name")
	}
	if s.Level == "" {
		s.Level = "N/A"
	}
	if s.Introduction == "" {
		s.Introduction = "N/A"
	}

	logger := p.logger.With("subject", s.SubjectName)

	syllabusPrompt, err := renderPrompt("syllabus.tmpl", s)
	if err != nil {
		return nil, err
	}

	rawSyllabus, err := p.dispatcher.Dispatch(ctx, request.Request{
		Provider: p.config.Routing.GenerationProvider,
		Model:    p.config.Routing.GenerationModel,
		Prompt:   syllabusPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate syllabus: %w", err)
	}

	base := safeName(s.SubjectName)
	syllabusPath := filepath.Join(p.syllabiDir(), base+"_syllabus.txt")
	if err := writeFileAtomic(syllabusPath, []byte(rawSyllabus)); err != nil {
		return nil, err
	}

	detailsPrompt, err := renderPrompt("class_details.tmpl", map[string]string{
		"SubjectName": s.SubjectName,
		"Syllabus":    rawSyllabus,
	})
	if err != nil {
		return nil, err
	}

	rawDetails, err := p.dispatcher.Dispatch(ctx, request.Request{
		Provider: p.config.Routing.FormatProvider,
		Model:    p.config.Routing.FormatModel,
		Prompt:   detailsPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract class details: %w", err)
	}

	lines := validJSONLines(ctx, rawDetails, logger)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no valid JSON lines in class details for %q",
			provider.ErrMalformedOutput, s.SubjectName)
	}

	detailsPath := filepath.Join(p.syllabiDir(), base+"_class_details.jsonl")
	if err := writeFileAtomic(detailsPath, joinLines(lines)); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "wrote syllabus artifacts",
		"syllabus", syllabusPath,
		"class_details", detailsPath,
		"sessions", len(lines))
	return []string{syllabusPath, detailsPath}, nil
}
