package rootfs

import "strings"

// quoteShellArg wraps arg in single quotes when it contains whitespace
// or a quote character, escaping any embedded single quote, matching
// the escaping original_source/monocore/lib/management/sandbox.rs
// performs when synthesizing the start script from an image's
// entrypoint/cmd. No shell-quoting library appears anywhere in the
// retrieved example pack, so this stays on the standard library (see
// DESIGN.md).
func quoteShellArg(arg string) string {
	if !strings.ContainsAny(arg, " \t\"'") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// quoteShellArgs joins args into a single space-separated, individually
// quoted command line.
func quoteShellArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quoteShellArg(a)
	}
	return strings.Join(quoted, " ")
}
