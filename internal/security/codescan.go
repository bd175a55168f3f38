package security

import (
	"errors"
	"regexp"
	"strings"
)

// ErrUnsafeCode is returned for programs that must not be saved or run.
var ErrUnsafeCode = errors.New("security: unsafe code")

// Severity ranks a finding.
type Severity int

const (
	// SeverityWarn is recorded with the result.
	SeverityWarn Severity = iota
	// SeverityBlock rejects the program.
	SeverityBlock
)

func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Finding is one rule match in a program.
type Finding struct {
	Rule     string
	Severity Severity
	Match    string
}

type codeRule struct {
	name     string
	severity Severity
	re       *regexp.Regexp
}

// CodeScanner flags destructive or risky constructs in generated programs.
// It is immutable once built.
type CodeScanner struct {
	rules []codeRule
}

func rule(name string, sev Severity, expr string) codeRule {
	return codeRule{name: name, severity: sev, re: regexp.MustCompile(expr)}
}

// NewCodeScanner returns a scanner with the built-in rules.
func NewCodeScanner() *CodeScanner {
	return &CodeScanner{rules: []codeRule{
		rule("recursive delete of root or home", SeverityBlock, `\brm\s+-[a-zA-Z]*[rR][a-zA-Z]*\s+(/|~|\$HOME)/?\*?(\s|$|['"])`),
		rule("tree removal of root or home", SeverityBlock, `shutil\.rmtree\(\s*(['"](/|~)['"]|os\.path\.expanduser)`),
		rule("fork bomb", SeverityBlock, `:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
		rule("remote script piped to shell", SeverityBlock, `\b(curl|wget)\b[^|\n]*\|\s*(sudo\s+)?(ba|z)?sh\b`),
		rule("raw disk write", SeverityBlock, `\bmkfs(\.\w+)?\s|\bdd\s+[^\n]*of=/dev/`),
		rule("shell command execution", SeverityWarn, `\bos\.system\(|\bos\.popen\(|shell\s*=\s*True|\bchild_process\b`),
		rule("dynamic evaluation", SeverityWarn, `\b(eval|exec)\s*\(`),
		rule("unsafe deserialization", SeverityWarn, `\b(pickle|marshal)\.loads?\(`),
		rule("raw network socket", SeverityWarn, `\bsocket\.socket\(|\bnet\.createServer\(`),
		rule("native code loading", SeverityWarn, `\bctypes\.|\bcffi\b`),
	}}
}

// Scan returns every rule the code matches, in rule order.
func (c *CodeScanner) Scan(code string) []Finding {
	var out []Finding
	for _, r := range c.rules {
		if m := r.re.FindString(code); m != "" {
			out = append(out, Finding{Rule: r.name, Severity: r.severity, Match: strings.TrimSpace(m)})
		}
	}
	return out
}

// Blocking returns the first blocking finding.
func Blocking(findings []Finding) (Finding, bool) {
	for _, f := range findings {
		if f.Severity == SeverityBlock {
			return f, true
		}
	}
	return Finding{}, false
}
