//go:build linux

package browser

import "os/exec"

// openCommand hands a URL to the desktop's default browser.
func openCommand(target string) *exec.Cmd {
	return exec.Command("xdg-open", target)
}
