//go:build linux

package main

import "github.com/coreos/go-systemd/v22/daemon"

// sdNotifyReady tells systemd the service is ready.
// It's a no-op returning false when not run under systemd.
func sdNotifyReady() (bool, error) {
	return daemon.SdNotify(false, daemon.SdNotifyReady)
}
