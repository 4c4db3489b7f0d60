package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/BurntSushi/toml"
)

// allowListFile mirrors the [allowlist] table of a gitleaks-style TOML file.
type allowListFile struct {
	AllowList struct {
		Regexes   []string `toml:"regexes"`
		StopWords []string `toml:"stopwords"`
	} `toml:"allowlist"`
}

// LoadAllowList reads allow-list patterns from a TOML file of the form
//
//	[allowlist]
//	regexes = ["EXAMPLE_[A-Z0-9]+"]
//	stopwords = ["dummy-token"]
//
// Stop words are matched literally. A missing file yields no patterns.
func LoadAllowList(path string) ([]string, error) {
	var f allowListFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse allowlist %s: %w", path, err)
	}

	patterns := make([]string, 0, len(f.AllowList.Regexes)+len(f.AllowList.StopWords))
	for _, re := range f.AllowList.Regexes {
		if _, err := regexp.Compile(re); err != nil {
			return nil, fmt.Errorf("allowlist %s: invalid regex %q: %w", path, re, err)
		}
		patterns = append(patterns, re)
	}
	for _, word := range f.AllowList.StopWords {
		patterns = append(patterns, regexp.QuoteMeta(word))
	}
	return patterns, nil
}
