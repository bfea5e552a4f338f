package export

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMethodLen caps confidence method strings written to exported files.
// Aggregated methods nest one combined(...) per fold step.
const MaxMethodLen = 512

// ShortMethod returns method unchanged when it fits MaxMethodLen. Longer
// methods keep a prefix followed by the total combine step count and length.
func ShortMethod(method string) string {
	if len(method) <= MaxMethodLen {
		return method
	}
	cut := MaxMethodLen
	for cut > 0 && !utf8.RuneStart(method[cut]) {
		cut--
	}
	steps := strings.Count(method, "combined(")
	return fmt.Sprintf("%s...[%d combine steps, %d bytes]", method[:cut], steps, len(method))
}
