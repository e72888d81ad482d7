package labels

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"
)

// Unlabeled is the class assigned to frames outside every annotated segment.
const Unlabeled = "unlabeled"

// Labelmap maps label strings to the integer classes the network outputs.
type Labelmap map[string]int

// ToMap builds a labelmap from a labelset. Labels are numbered in sorted
// order; with mapUnlabeled the "unlabeled" class takes 0 and the rest start
// at 1.
func ToMap(labelset []string, mapUnlabeled bool) (Labelmap, error) {
	if len(labelset) == 0 {
		return nil, errors.New("labelset is empty")
	}
	sorted := append([]string(nil), labelset...)
	sort.Strings(sorted)
	if mapUnlabeled {
		sorted = append([]string{Unlabeled}, sorted...)
	}
	out := make(Labelmap, len(sorted))
	for i, label := range sorted {
		if _, dup := out[label]; dup {
			return nil, fmt.Errorf("labelset contains %q more than once", label)
		}
		out[label] = i
	}
	return out, nil
}

// HasUnlabeledClass reports whether the map reserves a class for unlabeled
// frames.
func (m Labelmap) HasUnlabeledClass() bool {
	_, ok := m[Unlabeled]
	return ok
}

// Inverse maps classes back to labels.
func (m Labelmap) Inverse() map[int]string {
	out := make(map[int]string, len(m))
	for label, class := range m {
		out[class] = label
	}
	return out
}

// Labels returns the labels ordered by class.
func (m Labelmap) Labels() []string {
	out := make([]string, 0, len(m))
	for label := range m {
		out = append(out, label)
	}
	sort.Slice(out, func(i, j int) bool { return m[out[i]] < m[out[j]] })
	return out
}

// Save writes the labelmap as JSON.
func (m Labelmap) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode labelmap: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create labelmap directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write labelmap: %w", err)
	}
	return nil
}

// Load reads a labelmap written by Save.
func Load(path string) (Labelmap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read labelmap: %w", err)
	}
	var m Labelmap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode labelmap %s: %w", path, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("labelmap %s is empty", path)
	}
	seen := make(map[int]string, len(m))
	for label, class := range m {
		if other, ok := seen[class]; ok {
			return nil, fmt.Errorf("labelmap %s maps both %q and %q to %d", path, other, label, class)
		}
		seen[class] = label
	}
	return m, nil
}

// singleCharPool supplies replacement characters for multi-character labels.
const singleCharPool = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MultiCharToSingle returns a copy of the labelmap where every label longer
// than one character is replaced by a single character not already used, so
// label sequences can be compared as strings. Classes are unchanged and the
// unlabeled class is kept as is. The second return value maps replaced labels
// to their new character.
func (m Labelmap) MultiCharToSingle() (Labelmap, map[string]string) {
	used := map[rune]struct{}{}
	for label := range m {
		if utf8.RuneCountInString(label) == 1 {
			r, _ := utf8.DecodeRuneInString(label)
			used[r] = struct{}{}
		}
	}
	pool := []rune(singleCharPool)
	next := 0
	nextFree := func() rune {
		for {
			var r rune
			if next < len(pool) {
				r = pool[next]
			} else {
				// Past the ASCII pool, continue in Latin Extended.
				r = rune(0x100 + next - len(pool))
			}
			next++
			if _, taken := used[r]; !taken {
				used[r] = struct{}{}
				return r
			}
		}
	}

	out := make(Labelmap, len(m))
	replaced := map[string]string{}
	for _, label := range m.Labels() {
		if label == Unlabeled || utf8.RuneCountInString(label) <= 1 {
			out[label] = m[label]
			continue
		}
		single := string(nextFree())
		replaced[label] = single
		out[single] = m[label]
	}
	return out, replaced
}
