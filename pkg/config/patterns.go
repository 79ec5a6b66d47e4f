package config

import (
	"fmt"
	"regexp"
	"strings"

	"webspider/pkg/utils"
)

// PathFilters compiles DisallowedPathPatterns. Blank entries are ignored.
func (c *CrawlConfig) PathFilters() ([]*regexp.Regexp, error) {
	var filters []*regexp.Regexp
	for i, expr := range c.DisallowedPathPatterns {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: disallowed_path_patterns[%d] %q: %w", utils.ErrInvalidConfig, i, expr, err)
		}
		filters = append(filters, re)
	}
	return filters, nil
}
