package guard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// Commands that modify the filesystem or change context; their path
// arguments must stay inside the approved root.
var fsMutatingCommands = map[string]struct{}{
	"mkdir":   {},
	"touch":   {},
	"cp":      {},
	"mv":      {},
	"rm":      {},
	"rmdir":   {},
	"ln":      {},
	"install": {},
	"tee":     {},
	"cd":      {},
}

// Commands that are read-only or take no filesystem paths. Always permitted
// regardless of arguments.
var readOnlyCommands = map[string]struct{}{
	"cat":      {},
	"ls":       {},
	"head":     {},
	"tail":     {},
	"less":     {},
	"more":     {},
	"which":    {},
	"whoami":   {},
	"pwd":      {},
	"echo":     {},
	"printf":   {},
	"env":      {},
	"printenv": {},
	"date":     {},
	"wc":       {},
	"sort":     {},
	"uniq":     {},
	"diff":     {},
	"file":     {},
	"stat":     {},
	"du":       {},
	"df":       {},
	"tree":     {},
	"realpath": {},
	"dirname":  {},
	"basename": {},
}

// Actions that turn find into a filesystem-modifying command.
var findMutatingActions = map[string]struct{}{
	"-delete":  {},
	"-exec":    {},
	"-execdir": {},
	"-ok":      {},
	"-okdir":   {},
}

var commandSeparators = map[string]struct{}{
	"&&": {},
	"||": {},
	";":  {},
	"|":  {},
	"&":  {},
}

// CheckCommandBoundary parses a shell command line (including chained
// commands) and verifies that every filesystem-modifying or context-changing
// sub-command only targets paths inside approvedRoot. Relative arguments are
// resolved against workingDir so traversal sequences like ../../evil are
// caught.
//
// Returns (true, "") when the command is safe, or (false, reason) naming the
// first offending sub-command and argument. Input that cannot be tokenized is
// let through; the OS-level sandbox is the backstop for anything this static
// check cannot analyze.
func CheckCommandBoundary(command, workingDir, approvedRoot string) (bool, string) {
	tokens, err := shlex.Split(command)
	if err != nil {
		return true, ""
	}
	if len(tokens) == 0 {
		return true, ""
	}

	var chains [][]string
	var current []string
	for _, tok := range tokens {
		if _, isSep := commandSeparators[tok]; isSep {
			if len(current) > 0 {
				chains = append(chains, current)
			}
			current = nil
			continue
		}
		current = append(current, tok)
	}
	if len(current) > 0 {
		chains = append(chains, current)
	}

	resolvedRoot, err := filepath.Abs(approvedRoot)
	if err != nil {
		return true, ""
	}

	for _, cmdTokens := range chains {
		base := filepath.Base(cmdTokens[0])

		if _, readOnly := readOnlyCommands[base]; readOnly {
			continue
		}

		needsCheck := false
		if base == "find" {
			for _, tok := range cmdTokens[1:] {
				if _, mutating := findMutatingActions[tok]; mutating {
					needsCheck = true
					break
				}
			}
		} else if _, mutating := fsMutatingCommands[base]; mutating {
			needsCheck = true
		}
		if !needsCheck {
			continue
		}

		for _, tok := range cmdTokens[1:] {
			// Flags are never paths, even when they contain slashes.
			if strings.HasPrefix(tok, "-") {
				continue
			}

			resolved, rerr := resolvePathArg(tok, workingDir)
			if rerr != nil {
				// Tokens we cannot resolve are skipped, not denied.
				continue
			}

			if !isWithinDirectory(resolved, resolvedRoot) {
				return false, fmt.Sprintf(
					"Directory boundary violation: '%s' targets '%s' which is outside approved directory '%s'",
					base, tok, resolvedRoot,
				)
			}
		}
	}

	return true, ""
}

func resolvePathArg(token, workingDir string) (string, error) {
	if filepath.IsAbs(token) {
		return filepath.Clean(token), nil
	}
	return filepath.Abs(filepath.Join(workingDir, token))
}

// isWithinDirectory is a containment test, not a string prefix comparison:
// /approved must not match /approved-other.
func isWithinDirectory(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && (rel == "." || filepath.IsLocal(rel))
}
