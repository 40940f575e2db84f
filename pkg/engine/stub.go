package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// StubAdapter shells out to an external binary named after its backend
// when one is configured, or otherwise synthesizes a minimal markdown/
// JSON artifact pair so the orchestration core is exercisable without
// any real GPU engine present.
type StubAdapter struct {
	Backend      string
	BinaryPath   string
	ProducesJSON bool
}

// NewStubAdapter builds a stub for backend; binaryPath may be empty to
// use synthetic output only.
func NewStubAdapter(backend, binaryPath string, producesJSON bool) *StubAdapter {
	return &StubAdapter{Backend: backend, BinaryPath: binaryPath, ProducesJSON: producesJSON}
}

func (s *StubAdapter) Parse(ctx context.Context, in ParseInput) (ParseResult, error) {
	if in.CancelRequested != nil && in.CancelRequested() {
		return ParseResult{}, fmt.Errorf("cancelled before processing started")
	}

	if err := os.MkdirAll(in.OutputDir, 0755); err != nil {
		return ParseResult{}, &TransientError{Err: fmt.Errorf("create output dir: %w", err)}
	}

	if s.BinaryPath != "" {
		return s.runBinary(ctx, in)
	}
	return s.synthesize(in)
}

func (s *StubAdapter) runBinary(ctx context.Context, in ParseInput) (ParseResult, error) {
	mdPath := filepath.Join(in.OutputDir, in.TaskID+".md")
	cmd := exec.CommandContext(ctx, s.BinaryPath, in.FilePath, mdPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ParseResult{}, &TransientError{Err: fmt.Errorf("%s: %w", s.Backend, ctx.Err())}
		}
		return ParseResult{}, fmt.Errorf("%s engine failed: %w: %s", s.Backend, err, stderr.String())
	}

	result := ParseResult{MarkdownFile: filepath.Base(mdPath)}
	if s.ProducesJSON {
		jsonPath := filepath.Join(in.OutputDir, in.TaskID+".json")
		if _, err := os.Stat(jsonPath); err == nil {
			result.JSONFile = filepath.Base(jsonPath)
		}
	}
	return result, nil
}

func (s *StubAdapter) synthesize(in ParseInput) (ParseResult, error) {
	mdName := in.TaskID + ".md"
	mdPath := filepath.Join(in.OutputDir, mdName)
	content := fmt.Sprintf("# %s\n\nSynthesized by the %s backend stub at %s for input %s.\n",
		in.TaskID, s.Backend, time.Now().UTC().Format(time.RFC3339), filepath.Base(in.FilePath))
	if err := os.WriteFile(mdPath, []byte(content), 0644); err != nil {
		return ParseResult{}, &TransientError{Err: fmt.Errorf("write synthetic markdown: %w", err)}
	}

	result := ParseResult{MarkdownFile: mdName}
	if s.ProducesJSON {
		jsonName := in.TaskID + ".json"
		jsonPath := filepath.Join(in.OutputDir, jsonName)
		jsonContent := fmt.Sprintf(`{"task_id":%q,"backend":%q,"synthetic":true}`, in.TaskID, s.Backend)
		if err := os.WriteFile(jsonPath, []byte(jsonContent), 0644); err != nil {
			return ParseResult{}, &TransientError{Err: fmt.Errorf("write synthetic json: %w", err)}
		}
		result.JSONFile = jsonName
	}
	return result, nil
}

// DefaultRegistry builds a Registry with every backend named in spec.md
// §1 registered as a StubAdapter, using binaryPaths[backend] as the
// external tool to shell out to (empty string falls back to synthetic
// output for that backend).
func DefaultRegistry(binaryPaths map[string]string) *Registry {
	reg := NewRegistry("pipeline")
	backendsWithJSON := map[string]bool{
		"pipeline":     true,
		"paddleocr-vl": true,
		"video":        true,
	}
	for _, backend := range []string{"pipeline", "paddleocr-vl", "markitdown", "sensevoice", "video", "fasta", "genbank"} {
		reg.Register(backend, NewStubAdapter(backend, binaryPaths[backend], backendsWithJSON[backend]))
	}
	return reg
}
