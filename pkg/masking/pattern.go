package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

type patternSpec struct {
	name        string
	pattern     string
	replacement string
}

// builtinSpecs is the fixed set of secret-shaped patterns masked out of
// memory content before it is summarized, embedded, or persisted. Broad
// catch-alls like bare base64 blobs are deliberately excluded: they false
// -positive on ordinary prose far more often than they catch a real secret.
var builtinSpecs = []patternSpec{
	{
		name:        "api_key",
		pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{20,})["']?`,
		replacement: `"api_key": "[MASKED_API_KEY]"`,
	},
	{
		name:        "password",
		pattern:     `(?i)(?:password|pwd|pass)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
		replacement: `"password": "[MASKED_PASSWORD]"`,
	},
	{
		name:        "token",
		pattern:     `(?i)(?:token|bearer|jwt)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`,
		replacement: `"token": "[MASKED_TOKEN]"`,
	},
	{
		name:        "private_key",
		pattern:     `(?i)(?:private[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`,
		replacement: `"private_key": "[MASKED_PRIVATE_KEY]"`,
	},
	{
		name:        "secret_key",
		pattern:     `(?i)(?:secret[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-.]{20,})["']?`,
		replacement: `"secret_key": "[MASKED_SECRET_KEY]"`,
	},
	{
		name:        "certificate",
		pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
		replacement: `[MASKED_CERTIFICATE]`,
	},
	{
		name:        "ssh_key",
		pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
		replacement: `[MASKED_SSH_KEY]`,
	},
	{
		name:        "aws_access_key",
		pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["']?\s*[:=]\s*["']?(AKIA[A-Z0-9]{16})["']?`,
		replacement: `"aws_access_key_id": "[MASKED_AWS_KEY]"`,
	},
	{
		name:        "aws_secret_key",
		pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["']?\s*[:=]\s*["']?([A-Za-z0-9/+=]{40})["']?`,
		replacement: `"aws_secret_access_key": "[MASKED_AWS_SECRET]"`,
	},
	{
		name:        "github_token",
		pattern:     `(?i)gh[ps]_[A-Za-z0-9_]{36,255}`,
		replacement: `[MASKED_GITHUB_TOKEN]`,
	},
	{
		name:        "slack_token",
		pattern:     `(?i)xox[baprs]-[A-Za-z0-9-]{10,72}`,
		replacement: `[MASKED_SLACK_TOKEN]`,
	},
}

// compileBuiltins compiles builtinSpecs, logging and skipping any pattern
// that fails to compile instead of failing startup over it.
func compileBuiltins() []*CompiledPattern {
	compiled := make([]*CompiledPattern, 0, len(builtinSpecs))
	for _, spec := range builtinSpecs {
		re, err := regexp.Compile(spec.pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping", "pattern", spec.name, "error", err)
			continue
		}
		compiled = append(compiled, &CompiledPattern{Name: spec.name, Regex: re, Replacement: spec.replacement})
	}
	return compiled
}
