//go:build darwin

package browser

import "os/exec"

// openCommand hands a URL to the default browser.
func openCommand(target string) *exec.Cmd {
	return exec.Command("open", target)
}
