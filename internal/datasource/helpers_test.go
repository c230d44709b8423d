package datasource

import "regexp"

func mustRe(s string) *regexp.Regexp { return regexp.MustCompile(s) }
