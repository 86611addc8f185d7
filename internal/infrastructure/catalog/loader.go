// Package catalog loads course definitions from YAML files into the
// course repository.
package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/coursegate/progress-engine/internal/domain/course"
	"github.com/coursegate/progress-engine/pkg/logger"
)

// Loader reads *.yaml and *.yml course files from a directory.
type Loader struct {
	courses course.Repository
	log     *logger.Logger
}

// NewLoader creates a Loader that saves into courses.
func NewLoader(courses course.Repository, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.Nop()
	}
	return &Loader{courses: courses, log: log.Named("catalog")}
}

// LoadDir parses every course file in dir and saves it. Files are loaded in
// name order; the first invalid file aborts the load.
// A missing directory loads nothing.
func (l *Loader) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		l.log.Warn("catalog directory not found", logger.String("dir", dir))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read catalog dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	loaded := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		c, err := l.LoadFile(ctx, path)
		if err != nil {
			return loaded, err
		}
		loaded++
		l.log.Info("course loaded",
			logger.Course(c.Slug),
			logger.Int("modules", len(c.Modules)),
			logger.Int("lessons", c.TotalLessons()),
		)
	}
	return loaded, nil
}

// LoadFile parses and saves a single course file.
func (l *Loader) LoadFile(ctx context.Context, path string) (*course.Course, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if err := l.courses.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// Parse decodes one course document. Unknown keys are rejected so that a
// typo in a field such as correct_option does not silently drop an answer key.
func Parse(raw []byte) (*course.Course, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var c course.Course
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty course file")
		}
		return nil, fmt.Errorf("failed to parse course: %w", err)
	}
	return &c, nil
}
