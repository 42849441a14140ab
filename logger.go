package mealsense

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// AnalysisLogger is the interface for per-stage pipeline audit logging.
type AnalysisLogger interface {
	LogStage(stage StageLog) error
}

// NewAnalysisLogFilePath returns a file path based on a cleaned up model name or id to make it easier to identify logs produced with various models.
func NewAnalysisLogFilePath(model string) string {
	return fmt.Sprintf(
		"./logs/%d.%s.json",
		time.Now().Unix(),
		strings.ReplaceAll(strings.ToLower(model), ":", "_"),
	)
}

// StageLog represents one pipeline stage of one analysis
type StageLog struct {
	AnalysisID string         `json:"analysis_id"`
	Stage      AnalysisStatus `json:"stage"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// FileAnalysisLogger logs to a file, accumulating stage entries and flushing at the end
type FileAnalysisLogger struct {
	stages []StageLog
	writer io.Writer
}

// NewFileAnalysisLogger creates a new file-based analysis logger
func NewFileAnalysisLogger(writer io.Writer) *FileAnalysisLogger {
	return &FileAnalysisLogger{
		stages: make([]StageLog, 0),
		writer: writer,
	}
}

// LogStage buffers a stage entry (does not flush immediately)
func (fal *FileAnalysisLogger) LogStage(stage StageLog) error {
	fal.stages = append(fal.stages, stage)
	return nil
}

// Flush flushes all accumulated stage entries to the writer
func (fal *FileAnalysisLogger) Flush() error {
	if fal.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"analysis_session": map[string]any{
			"timestamp": time.Now(),
			"stages":    fal.stages,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal analysis log: %w", err)
	}

	if _, err := fal.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write analysis log: %w", err)
	}

	// Clear the buffer after successful write
	fal.stages = fal.stages[:0]
	return nil
}

// NoOpAnalysisLogger is a logger that discards all log entries
type NoOpAnalysisLogger struct{}

// NewNoOpAnalysisLogger creates a new no-op analysis logger
func NewNoOpAnalysisLogger() *NoOpAnalysisLogger {
	return &NoOpAnalysisLogger{}
}

// LogStage discards the stage entry (no-op)
func (nop *NoOpAnalysisLogger) LogStage(stage StageLog) error {
	return nil
}

// StdoutAnalysisLogger logs each stage as a JSON line to stdout (for Lambda/CloudWatch)
type StdoutAnalysisLogger struct{}

// NewStdoutAnalysisLogger creates a new stdout-based analysis logger
func NewStdoutAnalysisLogger() *StdoutAnalysisLogger {
	return &StdoutAnalysisLogger{}
}

// LogStage writes the stage entry as a JSON line to os.Stdout
func (l *StdoutAnalysisLogger) LogStage(stage StageLog) error {
	data, err := json.Marshal(stage)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
