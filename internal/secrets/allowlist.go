package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

// Allowlist exempts matches from redaction. Regexes are tested against
// each candidate secret; Paths against the document source.
type Allowlist struct {
	Regexes []string
	Paths   []string

	regexes []*regexp.Regexp
	paths   []*regexp.Regexp
}

// LoadAllowlist reads a gitleaks-style TOML file:
//
//	[allowlist]
//	regexes = ['''EXAMPLE_KEY''']
//	paths = ['''fixtures/''']
//
// A missing file yields an empty allowlist.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return &Allowlist{}, nil
	}
	var file struct {
		Allowlist struct {
			Regexes []string `toml:"regexes"`
			Paths   []string `toml:"paths"`
		} `toml:"allowlist"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Allowlist{}, nil
		}
		return nil, fmt.Errorf("%w: allowlist %s: %v", ragerr.ErrInvalidParameter, path, err)
	}
	a := &Allowlist{Regexes: file.Allowlist.Regexes, Paths: file.Allowlist.Paths}
	if err := a.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

func (a *Allowlist) compile() error {
	a.regexes = a.regexes[:0]
	a.paths = a.paths[:0]
	for _, p := range a.Regexes {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: allowlist regex %q: %v", ragerr.ErrInvalidParameter, p, err)
		}
		a.regexes = append(a.regexes, re)
	}
	for _, p := range a.Paths {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("%w: allowlist path %q: %v", ragerr.ErrInvalidParameter, p, err)
		}
		a.paths = append(a.paths, re)
	}
	return nil
}

func (a *Allowlist) allowsMatch(s string) bool {
	for _, re := range a.regexes {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func (a *Allowlist) allowsSource(source string) bool {
	for _, re := range a.paths {
		if re.MatchString(source) {
			return true
		}
	}
	return false
}
