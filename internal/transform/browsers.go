package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// defaultEngines approximates the browserslist "defaults" query.
var defaultEngines = map[api.EngineName]string{
	api.EngineChrome:  "109",
	api.EngineEdge:    "120",
	api.EngineFirefox: "115",
	api.EngineSafari:  "15.6",
	api.EngineIOS:     "15.6",
	api.EngineOpera:   "95",
}

var browserNames = map[string]api.EngineName{
	"chrome":        api.EngineChrome,
	"and_chr":       api.EngineChrome,
	"edge":          api.EngineEdge,
	"firefox":       api.EngineFirefox,
	"ff":            api.EngineFirefox,
	"safari":        api.EngineSafari,
	"ios":           api.EngineIOS,
	"ios_saf":       api.EngineIOS,
	"opera":         api.EngineOpera,
	"ie":            api.EngineIE,
	"explorer":      api.EngineIE,
	"node":          api.EngineNode,
	"samsung":       api.EngineChrome,
	"chromeandroid": api.EngineChrome,
}

var (
	browserQuery = regexp.MustCompile(`^([a-z_]+)\s*(>=)?\s*([0-9]+(?:\.[0-9]+)*)$`)
	lastVersions = regexp.MustCompile(`^last\s+\d+\s+(?:major\s+)?versions?$`)
	usageQuery   = regexp.MustCompile(`^[<>]=?\s*[0-9.]+%$`)
)

// ParseTargets maps browserslist-style queries to esbuild engines. Broad
// queries ("defaults", "last 2 versions", "> 0.5%") select the default
// engine set; a browser query ("safari 12", "chrome >= 80") lowers the
// minimum version of that browser. Negations are ignored.
func ParseTargets(queries []string) ([]api.Engine, error) {
	engines := make(map[api.EngineName]string)
	for _, raw := range queries {
		q := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case q == "", strings.HasPrefix(q, "not "):
			continue
		case q == "defaults", lastVersions.MatchString(q), usageQuery.MatchString(q):
			for name, v := range defaultEngines {
				lowerEngine(engines, name, v)
			}
		default:
			m := browserQuery.FindStringSubmatch(q)
			if m == nil {
				return nil, fmt.Errorf("unsupported browser target %q", raw)
			}
			name, ok := browserNames[m[1]]
			if !ok {
				return nil, fmt.Errorf("unknown browser %q in target %q", m[1], raw)
			}
			lowerEngine(engines, name, m[3])
		}
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("browser targets %q select no browsers", queries)
	}

	result := make([]api.Engine, 0, len(engines))
	for name, v := range engines {
		result = append(result, api.Engine{Name: name, Version: v})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func lowerEngine(engines map[api.EngineName]string, name api.EngineName, version string) {
	current, ok := engines[name]
	if !ok || compareVersions(version, current) < 0 {
		engines[name] = version
	}
}

func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

// ScriptTarget maps a scripts.target value to the esbuild language target.
func ScriptTarget(name string) (api.Target, error) {
	switch strings.ToLower(name) {
	case "es5":
		return api.ES5, nil
	case "es2015", "es6":
		return api.ES2015, nil
	case "es2016":
		return api.ES2016, nil
	case "es2017":
		return api.ES2017, nil
	case "es2018":
		return api.ES2018, nil
	case "es2019":
		return api.ES2019, nil
	case "es2020":
		return api.ES2020, nil
	case "es2021":
		return api.ES2021, nil
	case "es2022":
		return api.ES2022, nil
	case "es2023":
		return api.ES2023, nil
	case "es2024":
		return api.ES2024, nil
	case "esnext":
		return api.ESNext, nil
	default:
		return api.DefaultTarget, fmt.Errorf("unknown script target %q", name)
	}
}
