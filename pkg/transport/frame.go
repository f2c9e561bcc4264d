// Package transport moves raw link-layer frames between nodes.
//
// UDP carries one frame per datagram and stands in for the radio when nodes
// run as processes on a host network. Pipe provides the same packet
// semantics in memory, with optional loss, delay and duplication, for tests.
//
// Frames are opaque here: MAC headers, security processing and replay
// protection belong to the frame and link packages.
package transport

import (
	"net"

	"github.com/backkem/linksec/pkg/frame"
)

// MaxFrameSize is the largest frame a transport accepts (aMaxPHYPacketSize).
const MaxFrameSize = frame.MaxFrameSize

// ReceivedFrame represents an incoming frame from the medium.
// Data holds the raw bytes as received, including MAC header and MIC.
type ReceivedFrame struct {
	// Data contains the raw frame bytes.
	Data []byte
	// PeerAddr is the network address the frame arrived from.
	PeerAddr net.Addr
}

// FrameHandler is called for each received frame.
// Implementations should return quickly; the transport's read loop is
// blocked until the handler returns.
type FrameHandler func(f *ReceivedFrame)
