package config

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"vak/internal/fileutil"
)

// SetOption rewrites the config file at path with section.option set to
// value, creating the section when needed. The file is replaced atomically;
// comments are not preserved.
func SetOption(path, section, option string, value any) error {
	if _, ok := registry.kind(section, option); !ok {
		return fmt.Errorf("%w: %q in section %s", ErrInvalidOption, option, section)
	}
	doc, resolved, err := ReadDocument(path)
	if err != nil {
		return err
	}
	table, ok := doc[section].(map[string]any)
	if !ok {
		table = map[string]any{}
		doc[section] = table
	}
	table[option] = value

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := fileutil.WriteFileAtomic(resolved, data, 0o644); err != nil {
		return fmt.Errorf("rewrite config: %w", err)
	}
	return nil
}
