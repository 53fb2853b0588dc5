package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/gosuda/taskbridge/internal/platform"
)

// PlatformFile is the TOML file describing what the host platform answers to
// task documents:
//
//	[params]
//	min_score = 0
//	max_score = 100
//
//	[params.options]
//	difficulty = "hard"
//
//	[stars]
//	maze = 3
//	"algo/**" = 4
//
// Stars keys are task ids or doublestar patterns over task ids.
type PlatformFile struct {
	Params platform.TaskParams `toml:"params"`
	Stars  map[string]int      `toml:"stars"`
}

// DefaultPlatformFile serves the default task parameters and no star scaling.
func DefaultPlatformFile() PlatformFile {
	return PlatformFile{
		Params: platform.DefaultTaskParams(),
		Stars:  map[string]int{},
	}
}

// LoadPlatformFile reads path over the defaults. Keys the file omits keep
// their default values; unknown keys are rejected.
func LoadPlatformFile(path string) (PlatformFile, error) {
	out := DefaultPlatformFile()

	meta, err := toml.DecodeFile(path, &out)
	if err != nil {
		return PlatformFile{}, fmt.Errorf("load platform file: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			// options is a free-form table.
			if len(k) > 2 && k[0] == "params" && k[1] == "options" {
				continue
			}
			keys = append(keys, k.String())
		}
		if len(keys) > 0 {
			return PlatformFile{}, fmt.Errorf("load platform file: unknown keys %s", strings.Join(keys, ", "))
		}
	}

	if out.Params.Options == nil {
		out.Params.Options = map[string]any{}
	}
	for task, stars := range out.Stars {
		if stars < 0 {
			return PlatformFile{}, fmt.Errorf("load platform file: stars.%s must be >= 0, got %d", task, stars)
		}
		if !doublestar.ValidatePattern(task) {
			return PlatformFile{}, fmt.Errorf("load platform file: stars.%s is not a valid pattern", task)
		}
	}

	return out, nil
}

// StarsFor returns the stars configured for taskID. An exact key wins;
// otherwise the longest matching pattern does. 0 means no scaling.
func (p PlatformFile) StarsFor(taskID string) int {
	if n, ok := p.Stars[taskID]; ok {
		return n
	}

	patterns := make([]string, 0, len(p.Stars))
	for k := range p.Stars {
		patterns = append(patterns, k)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if len(patterns[i]) != len(patterns[j]) {
			return len(patterns[i]) > len(patterns[j])
		}
		return patterns[i] < patterns[j]
	})

	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, taskID); ok {
			return p.Stars[pat]
		}
	}
	return 0
}
