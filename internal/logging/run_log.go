package logging

import (
	"log/slog"
	"os"
	"path/filepath"
)

// RunLogFileName is the per-run log written under an archive's state folder.
const RunLogFileName = "run.log"

// RunLogger tees base into a JSON log at dir/run.log, tagging every record
// with runID. The returned close function flushes and closes the file.
func RunLogger(base *slog.Logger, dir, runID string) (*slog.Logger, func() error, error) {
	file, err := openLogFile(filepath.Join(dir, RunLogFileName))
	if err != nil {
		return nil, nil, err
	}
	fileHandler := newJSONHandler(file, slog.LevelDebug, false)
	logger := TeeLogger(base, fileHandler).With(String(FieldRunID, runID))
	return logger, closeFile(file), nil
}

func closeFile(file *os.File) func() error {
	return func() error {
		if err := file.Sync(); err != nil {
			_ = file.Close()
			return err
		}
		return file.Close()
	}
}
