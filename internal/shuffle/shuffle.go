// Package shuffle moves payloads between processor instances over TCP. One
// line per payload; connections are pooled per (host, port) and live for the
// lifetime of the upstream process, so delivery is FIFO per
// (upstream instance -> downstream instance) pair. The snapshot protocol
// depends on that FIFO property for clock alignment.
package shuffle

import (
	"expvar"
)

// stats captures stats for the shuffle transport.
var stats *expvar.Map

const (
	numDials            = "num_dials"
	numDialErrors       = "num_dial_errors"
	numPayloadsSent     = "num_payloads_sent"
	numSendErrors       = "num_send_errors"
	numAccepted         = "num_accepted_conns"
	numPayloadsReceived = "num_payloads_received"
	numDecodeErrors     = "num_decode_errors"
)

func init() {
	stats = expvar.NewMap("shuffle")
	stats.Add(numDials, 0)
	stats.Add(numDialErrors, 0)
	stats.Add(numPayloadsSent, 0)
	stats.Add(numSendErrors, 0)
	stats.Add(numAccepted, 0)
	stats.Add(numPayloadsReceived, 0)
	stats.Add(numDecodeErrors, 0)
}
