package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// Location is the position a transform service reported for an error.
type Location struct {
	Line    int
	Column  int
	Message string
}

// Parser extracts locations from the free-form error text of the transform
// services (html/template, Dart Sass).
type Parser struct {
	patterns []errorPattern
}

type errorPattern struct {
	regex       *regexp.Regexp
	parseFields func(matches []string) Location
}

// NewParser creates a parser with the known error formats.
func NewParser() *Parser {
	return &Parser{patterns: buildPatterns()}
}

// Parse returns the location found in text. When no pattern matches, the
// first line of text is returned as the message with no position.
func (p *Parser) Parse(text string) Location {
	text = strings.TrimSpace(text)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, pattern := range p.patterns {
			if matches := pattern.regex.FindStringSubmatch(line); matches != nil {
				loc := pattern.parseFields(matches)
				if loc.Message == "" {
					loc.Message = firstLine(text)
				}
				return loc
			}
		}
	}
	return Location{Message: firstLine(text)}
}

func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}

func buildPatterns() []errorPattern {
	return []errorPattern{
		{
			// html/template: "template: index.html:3:14: executing ..." or parse errors
			regex: regexp.MustCompile(`^template: [^:]+:(\d+):(\d+): (.+)$`),
			parseFields: func(matches []string) Location {
				line, _ := strconv.Atoi(matches[1])
				column, _ := strconv.Atoi(matches[2])
				return Location{Line: line, Column: column, Message: matches[3]}
			},
		},
		{
			regex: regexp.MustCompile(`^template: [^:]+:(\d+): (.+)$`),
			parseFields: func(matches []string) Location {
				line, _ := strconv.Atoi(matches[1])
				return Location{Line: line, Message: matches[2]}
			},
		},
		{
			// Dart Sass trace line: "dev/static/styles/styles.scss 3:5  root stylesheet"
			regex: regexp.MustCompile(`^(\S+\.s[ac]ss|\S+\.css) (\d+):(\d+)\s+.*$`),
			parseFields: func(matches []string) Location {
				line, _ := strconv.Atoi(matches[2])
				column, _ := strconv.Atoi(matches[3])
				return Location{Line: line, Column: column}
			},
		},
		{
			regex: regexp.MustCompile(`^(.+?):(\d+):(\d+): (.+)$`),
			parseFields: func(matches []string) Location {
				line, _ := strconv.Atoi(matches[2])
				column, _ := strconv.Atoi(matches[3])
				return Location{Line: line, Column: column, Message: matches[4]}
			},
		},
	}
}
