package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"mercator-hq/rulegate/pkg/rules"
)

// FileSource loads rules from YAML files on disk.
type FileSource struct {
	path   string
	strict bool
	logger *slog.Logger
}

// NewFileSource creates a file-based rule source. The path can be a single
// file or a directory; for a directory every .yaml and .yml file below it is
// loaded in lexical order.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:   path,
		logger: logger,
	}
}

// Strict makes LoadRules fail on the first invalid file instead of skipping it.
func (s *FileSource) Strict(strict bool) *FileSource {
	s.strict = strict
	return s
}

// Path returns the configured path.
func (s *FileSource) Path() string { return s.path }

// LoadRules loads all rules from the configured path.
func (s *FileSource) LoadRules(ctx context.Context) ([]rules.Rule, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", s.path, err)
	}

	var files []string
	if info.IsDir() {
		files, err = s.listDirectory()
		if err != nil {
			return nil, err
		}
	} else {
		files = []string{s.path}
	}

	var loaded []rules.Rule
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fileRules, err := LoadFile(path)
		if err != nil {
			if s.strict || !info.IsDir() {
				return nil, err
			}
			s.logger.Warn("failed to load rule file, skipping",
				"path", path,
				"error", err,
			)
			continue
		}
		s.logger.Debug("loaded rule file",
			"path", path,
			"rule_count", len(fileRules),
		)
		loaded = append(loaded, fileRules...)
	}

	s.logger.Info("loaded rules from source",
		"path", s.path,
		"file_count", len(files),
		"rule_count", len(loaded),
	)

	return loaded, nil
}

func (s *FileSource) listDirectory() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", s.path, err)
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile parses one rule file and validates every rule in it.
func LoadFile(path string) ([]rules.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}
	parsed, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule file %q: %w", path, err)
	}
	return parsed, nil
}

// Parse decodes rule YAML. Unknown fields are rejected so that typos in rule
// files surface instead of silently disabling a pattern.
func Parse(data []byte) ([]rules.Rule, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var fieldErrs []rules.FieldError
	out := make([]rules.Rule, 0, len(file.Rules))
	for _, r := range file.Rules {
		r = rules.Normalize(r)
		if err := rules.Validate(&r); err != nil {
			var ve *rules.ValidationError
			if errors.As(err, &ve) {
				fieldErrs = append(fieldErrs, ve.Errors...)
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	if len(fieldErrs) > 0 {
		return nil, &rules.ValidationError{Errors: fieldErrs}
	}
	return out, nil
}
