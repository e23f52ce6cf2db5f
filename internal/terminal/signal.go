package terminal

import (
	"os"
	"syscall"
)

// signalByName maps the wire signal names accepted by sendTerminalInput
// (spec §4.5) onto os.Signal values.
func signalByName(name string) (os.Signal, bool) {
	switch name {
	case "SIGINT":
		return syscall.SIGINT, true
	case "SIGTERM":
		return syscall.SIGTERM, true
	case "SIGKILL":
		return syscall.SIGKILL, true
	case "SIGHUP":
		return syscall.SIGHUP, true
	case "SIGQUIT":
		return syscall.SIGQUIT, true
	default:
		return nil, false
	}
}
