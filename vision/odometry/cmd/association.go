package main

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// framePaths names the depth and color images of one RGB-D frame.
type framePaths struct {
	Depth string
	Color string
}

// readAssociation reads an association file. Each line is either "depth color" or the
// TUM form "timestamp depth timestamp color"; blank lines and lines starting with '#'
// are skipped. Relative paths are resolved against the directory of the file.
func readAssociation(path string) ([]framePaths, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening association file")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return parseAssociation(f, filepath.Dir(path))
}

func parseAssociation(r io.Reader, baseDir string) ([]framePaths, error) {
	var frames []framePaths
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		var fp framePaths
		switch len(fields) {
		case 2:
			fp = framePaths{Depth: fields[0], Color: fields[1]}
		case 4:
			fp = framePaths{Depth: fields[1], Color: fields[3]}
		default:
			return nil, errors.Errorf("association line %d: expected 2 or 4 fields, got %d", lineNum, len(fields))
		}
		fp.Depth = resolve(baseDir, fp.Depth)
		fp.Color = resolve(baseDir, fp.Color)
		frames = append(frames, fp)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}
