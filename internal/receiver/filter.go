package receiver

import "fmt"

// Filter builds the capture filter for the receive flow. Only TCP
// segments addressed to the scanner's source address and ephemeral port
// range can belong to a probe; everything else is dropped in the kernel
// before it costs a wakeup.
func Filter(srcIP string, portMin, portMax uint16) string {
	if portMin == portMax {
		return fmt.Sprintf("tcp and dst host %s and dst port %d", srcIP, portMin)
	}
	return fmt.Sprintf("tcp and dst host %s and dst portrange %d-%d", srcIP, portMin, portMax)
}
