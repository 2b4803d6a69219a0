package secret

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands $VAR and ${VAR} in s. A braced ${VAR} that is not
// set is an error naming every missing variable. "$$" yields a literal "$".
func ExpandEnvStrict(s string) (string, error) {
	const dollar = "\x00GATEKEEPER_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollar)

	var missing []string
	seen := make(map[string]bool)
	for _, m := range bracedVar.FindAllStringSubmatch(s, -1) {
		key := m[1]
		if _, ok := os.LookupEnv(key); !ok && !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return strings.ReplaceAll(os.ExpandEnv(s), dollar, "$"), nil
}
