//go:build !linux && !darwin && !windows

package browser

import "os/exec"

// openCommand returns nil on platforms without a known browser opener.
// Navigate prints the URL either way, so sign-in still works by hand.
func openCommand(_ string) *exec.Cmd {
	return nil
}
