// Package safety provides a static deny/warn-list scan of command
// templates before they are substituted or executed.
package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/enactprotocol/enact-go/internal/domain/manifest"
)

// Finding is one matched pattern with its explanation.
type Finding struct {
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

// Result is the outcome of scanning a command template.
// Blocked findings stop the pipeline unless the caller forces past
// them; warnings never block.
type Result struct {
	IsSafe   bool      `json:"isSafe"`
	Blocked  []Finding `json:"blocked,omitempty"`
	Warnings []Finding `json:"warnings,omitempty"`
}

// denyRule is a hard block.
type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

// denyRules match commands that are never safe to run unforced.
var denyRules = []denyRule{
	{
		pattern: regexp.MustCompile(`rm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*)\s+("?/"?\s*$|/\s|/\*|"/\*?"|\$home\b|~\s*$)`),
		reason:  "recursive delete of the filesystem root or home directory",
	},
	{
		pattern: regexp.MustCompile(`rm\s+.*--no-preserve-root`),
		reason:  "recursive delete with root preservation disabled",
	},
	{
		pattern: regexp.MustCompile(`\bdd\s+[^|;]*of=/dev/`),
		reason:  "raw write to a block device",
	},
	{
		pattern: regexp.MustCompile(`\bmkfs(\.\w+)?\b`),
		reason:  "filesystem creation destroys existing data",
	},
	{
		pattern: regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|vd)`),
		reason:  "redirect onto a block device",
	},
	{
		pattern: regexp.MustCompile(`\b(curl|wget)\b[^|;&]*\|\s*(sudo\s+)?(sh|bash|zsh|dash)\b`),
		reason:  "remote script piped into a shell",
	},
}

// warnRule flags a command without blocking it.
type warnRule struct {
	pattern *regexp.Regexp
	reason  string
	// skip suppresses the rule based on manifest context.
	skip func(m *manifest.ToolManifest) bool
}

var warnRules = []warnRule{
	{
		pattern: regexp.MustCompile(`\bsudo\b|\bsu\s+(-|\w)`),
		reason:  "privilege escalation",
	},
	{
		pattern: regexp.MustCompile(`\b(systemctl|service)\s+(start|stop|restart|enable|disable|mask)\b`),
		reason:  "service or daemon control",
	},
	{
		pattern: regexp.MustCompile(`\b(mount|umount)\s`),
		reason:  "filesystem mount operation",
	},
	{
		pattern: regexp.MustCompile(`\b(iptables|nft|ufw|firewall-cmd)\b`),
		reason:  "firewall rule change",
	},
	{
		pattern: regexp.MustCompile(`\b(curl|wget|nc|netcat)\b|https?://`),
		reason:  "network access without openWorldHint",
		skip: func(m *manifest.ToolManifest) bool {
			return m != nil && m.Annotations.OpenWorldHint
		},
	},
	{
		pattern: regexp.MustCompile(`\brm\s|\bmv\s`),
		reason:  "destructive file operation without destructiveHint",
		skip: func(m *manifest.ToolManifest) bool {
			return m != nil && m.Annotations.DestructiveHint
		},
	},
}

// Scanner performs the static command scan.
type Scanner struct{}

// NewScanner creates a new scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

// Scan evaluates the unexpanded command template against the deny and
// warn lists. The manifest supplies annotations and the container
// image, which soften some warnings.
func (s *Scanner) Scan(command string, m *manifest.ToolManifest) Result {
	lower := strings.ToLower(command)
	result := Result{IsSafe: true}

	for _, rule := range denyRules {
		if rule.pattern.MatchString(lower) {
			result.Blocked = append(result.Blocked, Finding{
				Pattern: rule.pattern.String(),
				Reason:  rule.reason,
			})
		}
	}

	for _, rule := range warnRules {
		if rule.skip != nil && rule.skip(m) {
			continue
		}
		if rule.pattern.MatchString(lower) {
			result.Warnings = append(result.Warnings, Finding{
				Pattern: rule.pattern.String(),
				Reason:  rule.reason,
			})
		}
	}

	// Unpinned package installs are a supply chain hazard on the host,
	// but irrelevant when the manifest pins a container image.
	if m == nil || m.From == "" {
		result.Warnings = append(result.Warnings, scanUnpinnedInstalls(lower)...)
	}

	result.IsSafe = len(result.Blocked) == 0
	return result
}

var (
	npxPattern        = regexp.MustCompile(`\bnpx\s+(?:-y\s+|--yes\s+)?([a-z0-9@._/-]+)`)
	pipInstallPattern = regexp.MustCompile(`\bpip3?\s+install\s+([a-z0-9._\[\]-]+)`)
)

// scanUnpinnedInstalls flags npx/pip invocations without a version pin.
func scanUnpinnedInstalls(lower string) []Finding {
	var findings []Finding

	if match := npxPattern.FindStringSubmatch(lower); match != nil {
		pkg := match[1]
		// A pinned package looks like pkg@1.2.3 or @scope/pkg@1.2.3.
		if !strings.Contains(strings.TrimPrefix(pkg, "@"), "@") {
			findings = append(findings, Finding{
				Pattern: npxPattern.String(),
				Reason:  fmt.Sprintf("npx package %q has no version pin", pkg),
			})
		}
	}

	if match := pipInstallPattern.FindStringSubmatch(lower); match != nil {
		if !strings.Contains(lower, "==") {
			findings = append(findings, Finding{
				Pattern: pipInstallPattern.String(),
				Reason:  fmt.Sprintf("pip package %q has no version pin", match[1]),
			})
		}
	}

	return findings
}
