//go:build windows

package browser

import "os/exec"

// openCommand hands a URL to the default browser.
func openCommand(target string) *exec.Cmd {
	return exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
}
