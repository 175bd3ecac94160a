// Package tunables parses GLIBC_TUNABLES, the colon-separated key=value
// environment variable spec.md §6 names as the only configuration surface
// the loader reads from the environment.
package tunables

import (
	"strconv"
	"strings"

	env "github.com/xyproto/env/v2"
)

// DefaultStaticTLSSurplus is the fallback surplus reserved past the end of
// the computed static TLS region (spec.md §4.D step 2).
const DefaultStaticTLSSurplus = 2048

const tunableKey = "glibc.rtld.optional_static_tls"

// StaticTLSSurplus returns the configured TLS surplus, reading
// GLIBC_TUNABLES from the process environment via env.Str and falling back
// to DefaultStaticTLSSurplus when the variable is unset or the
// glibc.rtld.optional_static_tls key is absent or malformed.
func StaticTLSSurplus() int {
	return StaticTLSSurplusFrom(env.Str("GLIBC_TUNABLES"))
}

// StaticTLSSurplusFrom parses a GLIBC_TUNABLES-shaped string directly,
// independent of the process environment, so layout logic can be tested
// without mutating os.Setenv.
func StaticTLSSurplusFrom(raw string) int {
	if raw == "" {
		return DefaultStaticTLSSurplus
	}
	for _, pair := range strings.Split(raw, ":") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key != tunableKey {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return DefaultStaticTLSSurplus
		}
		return int(n)
	}
	return DefaultStaticTLSSurplus
}
