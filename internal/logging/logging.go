// Package logging builds the bot's zap logger. Entries go to stderr and are
// split by level into info.log and error.log inside the log directory.
package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	InfoFileName  = "info.log"
	ErrorFileName = "error.log"
)

// New returns a logger writing to stderr and, when dir is not empty, to the
// per-level files in dir.
func New(level, dir string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), lvl),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		infoFile, err := os.OpenFile(filepath.Join(dir, InfoFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open info log: %w", err)
		}
		errFile, err := os.OpenFile(filepath.Join(dir, ErrorFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			infoFile.Close()
			return nil, fmt.Errorf("open error log: %w", err)
		}

		jsonEnc := zapcore.NewJSONEncoder(encCfg)
		below := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= lvl && l < zapcore.WarnLevel
		})
		above := zap.LevelEnablerFunc(func(l zapcore.Level) bool {
			return l >= lvl && l >= zapcore.WarnLevel
		})
		cores = append(cores,
			zapcore.NewCore(jsonEnc, zapcore.Lock(infoFile), below),
			zapcore.NewCore(jsonEnc, zapcore.Lock(errFile), above),
		)
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Tail returns up to n trailing lines of the file at path.
func Tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(lines) == n {
			lines = lines[1:]
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// TailDir returns up to n trailing entries across info.log and error.log,
// merged in timestamp order. It fails only when neither file can be read.
func TailDir(dir string, n int) ([]string, error) {
	info, infoErr := Tail(filepath.Join(dir, InfoFileName), n)
	errs, errsErr := Tail(filepath.Join(dir, ErrorFileName), n)
	if infoErr != nil && errsErr != nil {
		return nil, errors.Join(infoErr, errsErr)
	}

	merged := make([]string, 0, len(info)+len(errs))
	i, j := 0, 0
	for i < len(info) && j < len(errs) {
		if entryTime(errs[j]) < entryTime(info[i]) {
			merged = append(merged, errs[j])
			j++
		} else {
			merged = append(merged, info[i])
			i++
		}
	}
	merged = append(merged, info[i:]...)
	merged = append(merged, errs[j:]...)
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	return merged, nil
}

// entryTime extracts the ISO8601 "ts" field; lines without one sort first.
func entryTime(line string) string {
	var e struct {
		TS string `json:"ts"`
	}
	if json.Unmarshal([]byte(line), &e) != nil {
		return ""
	}
	return e.TS
}
