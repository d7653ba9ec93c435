// Package joincode parses and produces the scannable group-activity join URI
// scheme://group_activity/<8 digits>.
package joincode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
)

const (
	DefaultScheme = "activity_tracker"
	Length        = 8
	host          = "group_activity"
)

var ErrNotJoinCode = errors.New("not a join code")

var codePattern = regexp.MustCompile(`^[0-9]{8}$`)

// Parser recognizes join URIs for one scheme.
type Parser struct {
	scheme  string
	pattern *regexp.Regexp
}

func NewParser(scheme string) *Parser {
	if scheme == "" {
		scheme = DefaultScheme
	}
	return &Parser{
		scheme:  scheme,
		pattern: regexp.MustCompile(`^` + regexp.QuoteMeta(scheme) + `://` + host + `/([0-9]{8})$`),
	}
}

// Parse returns the code embedded in uri.
func (p *Parser) Parse(uri string) (string, error) {
	m := p.pattern.FindStringSubmatch(uri)
	if m == nil {
		return "", fmt.Errorf("%q: %w", uri, ErrNotJoinCode)
	}
	return m[1], nil
}

// URI formats code as a join URI.
func (p *Parser) URI(code string) (string, error) {
	if !Valid(code) {
		return "", fmt.Errorf("%q: %w", code, ErrNotJoinCode)
	}
	return p.scheme + "://" + host + "/" + code, nil
}

// Parse uses the default scheme.
func Parse(uri string) (string, error) {
	return NewParser(DefaultScheme).Parse(uri)
}

// Valid reports whether code is exactly eight decimal digits.
func Valid(code string) bool {
	return codePattern.MatchString(code)
}

// Generate draws a uniformly random code, leading zeros included.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", Length, n.Int64()), nil
}
