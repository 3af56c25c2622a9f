// Package source provides rule sources: places rules are loaded from before a
// snapshot is published.
//
// Sources return a flat list of rules. Layered merges several sources in
// precedence order (system, then organization, then user) so the engine only
// ever sees one flattened rule list.
package source

import (
	"context"

	"mercator-hq/rulegate/pkg/rules"
)

// Source loads rules.
type Source interface {
	// LoadRules returns the current rules of the source.
	LoadRules(ctx context.Context) ([]rules.Rule, error)
}

// File is the on-disk representation of a rule file.
type File struct {
	// Rules lists the rules defined in the file.
	Rules []rules.Rule `yaml:"rules"`
}
