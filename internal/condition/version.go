package condition

import (
	"regexp"
	"strings"
)

var (
	versionTrim  = regexp.MustCompile(`(^v|\+.*$)`)
	versionSplit = regexp.MustCompile(`[-.]`)
	numericPart  = regexp.MustCompile(`^[0-9]+$`)
)

// PaddedVersion rewrites a version string so that plain string comparison
// orders versions correctly.
//
// Algorithm:
//  1. Drop a leading "v" and any "+build" suffix
//  2. Split on "." and "-"
//  3. A bare MAJOR.MINOR.PATCH gets a trailing "~" part, which sorts after
//     any prerelease tag
//  4. Left-pad numeric parts with spaces to width 5
//
// Example: "v1.2.3-beta.10" → "    1-    2-    3-beta-   10"
func PaddedVersion(version string) string {
	trimmed := versionTrim.ReplaceAllString(version, "")
	parts := versionSplit.Split(trimmed, -1)
	if len(parts) == 3 {
		parts = append(parts, "~")
	}
	for i, p := range parts {
		if numericPart.MatchString(p) && len(p) < 5 {
			parts[i] = strings.Repeat(" ", 5-len(p)) + p
		}
	}
	return strings.Join(parts, "-")
}
