// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for names that would resolve outside their root.
var ErrOutsideRoot = errors.New("fsutil: path escapes root")

// ConfineRelPath resolves rel under root. Channel logins and payload names
// come from the network, so rel must be a local, slash-separated path.
func ConfineRelPath(root, rel string) (string, error) {
	if strings.ContainsRune(rel, '\\') || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, rel)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("fsutil: resolve root %s: %w", root, err)
	}
	return filepath.Join(abs, rel), nil
}
