//go:build linux

package main

import (
	"fmt"
	"os/exec"
)

func checkRSTSuppression() bool {
	return exec.Command("iptables", "-C", "OUTPUT",
		"-p", "tcp", "--tcp-flags", "RST", "RST", "-j", "DROP").Run() == nil
}

func rstSuppressionHint(portMin, portMax uint16) string {
	return fmt.Sprintf("iptables -I OUTPUT 1 -p tcp --sport %d:%d --tcp-flags RST RST -j DROP",
		portMin, portMax)
}
