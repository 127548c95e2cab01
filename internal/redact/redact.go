// Package redact implements the Secret Redactor: mandatory scanning of
// outbound content and log lines for known secret shapes, replacing matches
// with labelled placeholders. Patterns are precompiled once at startup,
// matching the teacher's pattern of compiling regexes ahead of the hot path
// rather than per call.
package redact

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

// namedPattern is one precompiled secret-shape detector.
type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// builtinPatterns are applied in order, matching spec.md §4.10.
var builtinPatterns = []namedPattern{
	{"anthropic_api_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
	{"openai_api_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"github_pat", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{30,}`)},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`)},
	{"stripe_key", regexp.MustCompile(`(?:sk|pk|rk)_(?:live|test)_[A-Za-z0-9]{16,}`)},
	{"google_api_key", regexp.MustCompile(`AIza[A-Za-z0-9_-]{35}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"aws_secret_key", regexp.MustCompile(`(?i)aws_secret_access_key['"]?\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
	{"generic_secret", regexp.MustCompile(`(?i)(api_key|apikey|secret|token|password|credential|auth)['"]?\s*[:=]\s*['"]([A-Za-z0-9_\-./+=]{16,})['"]`)},
}

// secretEnvNamePattern flags environment variable names that plausibly hold
// a secret, for the startup env-value scan.
var secretEnvNamePattern = regexp.MustCompile(`(?i)(key|secret|token|password|passwd|credential|auth)`)

// Redactor scans text and replaces known secret shapes with placeholders.
type Redactor struct {
	patterns    []namedPattern
	envNeedles  []envNeedle
	labelled    bool
}

type envNeedle struct {
	varName string
	value   string
}

// New constructs a Redactor, optionally scanning the process environment for
// secret-suggestive variable values at least minEnvValueLength long.
func New(minEnvValueLength int, labelled bool) *Redactor {
	r := &Redactor{patterns: builtinPatterns, labelled: labelled}
	r.scanEnviron(minEnvValueLength)
	return r
}

func (r *Redactor) scanEnviron(minLen int) {
	for _, kv := range os.Environ() {
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			continue
		}
		name, value := kv[:i], kv[i+1:]
		if len(value) < minLen {
			continue
		}
		if !secretEnvNamePattern.MatchString(name) {
			continue
		}
		r.envNeedles = append(r.envNeedles, envNeedle{varName: name, value: value})
	}
	// Sort longest-first so a longer needle's match isn't partially hidden
	// by a shorter overlapping one applied first.
	sort.Slice(r.envNeedles, func(i, j int) bool {
		return len(r.envNeedles[i].value) > len(r.envNeedles[j].value)
	})
}

// Redact replaces every detected secret shape in s with a placeholder.
// Redact is idempotent: redact(redact(x)) == redact(x).
func (r *Redactor) Redact(s string) string {
	out := s
	for _, p := range r.patterns {
		out = p.re.ReplaceAllStringFunc(out, func(match string) string {
			return r.placeholder(p.name)
		})
	}
	for _, needle := range r.envNeedles {
		if needle.value == "" {
			continue
		}
		if strings.Contains(out, needle.value) {
			out = strings.ReplaceAll(out, needle.value, r.placeholderEnv(needle.varName))
		}
	}
	return out
}

func (r *Redactor) placeholder(pattern string) string {
	if r.labelled {
		return "[REDACTED:" + pattern + "]"
	}
	return "[REDACTED]"
}

func (r *Redactor) placeholderEnv(varName string) string {
	if r.labelled {
		return "[REDACTED:env:" + varName + "]"
	}
	return "[REDACTED]"
}
