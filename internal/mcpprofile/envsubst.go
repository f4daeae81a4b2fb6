// ABOUTME: ${NAME} environment substitution with $${NAME} escaping.
// ABOUTME: Two passes: mask escapes, expand references, unmask.

package mcpprofile

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// escapeSentinel is unlikely to occur in settings values; it stands in
// for the literal "${" of an escaped reference during expansion.
const escapeSentinel = "\x00flint-esc\x00"

// ExpandEnv replaces ${NAME} references with environment values. $${NAME}
// escapes to the literal ${NAME}. A missing or empty variable is an error
// naming the variable.
func ExpandEnv(s string) (string, error) {
	masked := strings.ReplaceAll(s, "$${", escapeSentinel)

	var missing string
	expanded := envRefPattern.ReplaceAllStringFunc(masked, func(match string) string {
		name := envRefPattern.FindStringSubmatch(match)[1]
		val := os.Getenv(name)
		if val == "" && missing == "" {
			missing = name
		}
		return val
	})
	if missing != "" {
		return "", fmt.Errorf("environment variable %s is not set", missing)
	}

	return strings.ReplaceAll(expanded, escapeSentinel, "${"), nil
}
