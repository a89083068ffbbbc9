package guard

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathValidator decides whether a file-operation path is acceptable.
// Implementations return (ok, resolved absolute path, reason). Denial is a
// value, not an error; reason is empty on success.
type PathValidator interface {
	ValidatePath(raw, workingDir string) (bool, string, string)
}

// WorkspaceValidator confines file operations to a single approved root.
// Relative paths resolve against the per-call working directory; the result
// must sit inside the root even after symlink resolution.
type WorkspaceValidator struct {
	ApprovedRoot string
}

func NewWorkspaceValidator(approvedRoot string) *WorkspaceValidator {
	return &WorkspaceValidator{ApprovedRoot: approvedRoot}
}

func (v *WorkspaceValidator) ValidatePath(raw, workingDir string) (bool, string, string) {
	if v.ApprovedRoot == "" {
		return false, "", "approved root is not configured"
	}

	absRoot, err := filepath.Abs(v.ApprovedRoot)
	if err != nil {
		return false, "", fmt.Sprintf("failed to resolve approved root: %v", err)
	}

	var absPath string
	if filepath.IsAbs(raw) {
		absPath = filepath.Clean(raw)
	} else {
		absPath, err = filepath.Abs(filepath.Join(workingDir, raw))
		if err != nil {
			return false, "", fmt.Sprintf("failed to resolve path: %v", err)
		}
	}

	if !isWithinDirectory(absPath, absRoot) {
		return false, "", fmt.Sprintf("access denied: path '%s' is outside approved directory '%s'", raw, absRoot)
	}

	rootReal := absRoot
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		rootReal = resolved
	}

	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		if !isWithinDirectory(resolved, rootReal) {
			return false, "", "access denied: symlink resolves outside approved directory"
		}
	} else if os.IsNotExist(err) {
		// Target does not exist yet (e.g. a new file). Walk up to the nearest
		// existing ancestor and check that instead.
		if parentResolved, perr := resolveExistingAncestor(filepath.Dir(absPath)); perr == nil {
			if !isWithinDirectory(parentResolved, rootReal) {
				return false, "", "access denied: symlink resolves outside approved directory"
			}
		} else if !os.IsNotExist(perr) {
			return false, "", fmt.Sprintf("failed to resolve path: %v", perr)
		}
	} else {
		return false, "", fmt.Sprintf("failed to resolve path: %v", err)
	}

	return true, absPath, ""
}

func resolveExistingAncestor(path string) (string, error) {
	for current := filepath.Clean(path); ; current = filepath.Dir(current) {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			return resolved, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		if filepath.Dir(current) == current {
			return "", os.ErrNotExist
		}
	}
}
