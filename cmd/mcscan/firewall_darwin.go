//go:build darwin

package main

import (
	"os/exec"
	"strings"
)

func checkRSTSuppression() bool {
	out, err := exec.Command("pfctl", "-sr").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "flags R/R")
}

// rstSuppressionHint ignores the port range, pf matches on flags alone.
func rstSuppressionHint(_, _ uint16) string {
	return `echo "block drop out proto tcp from any to any flags R/R" | sudo pfctl -ef -`
}
