package transport

import (
	"context"

	"github.com/beachsh/beach/pkg/wire"
)

// FrameSink adapts a Channel into a sync.Sink, encoding each HostFrame
// with the negotiated wire format. The synchronizer prefers binary on
// Output when the peer advertises the binary capability, else JSON on
// Control.
type FrameSink struct {
	ch     Channel
	binary bool
}

// NewFrameSink wraps ch; binary selects the binary codec over JSON.
func NewFrameSink(ch Channel, binary bool) *FrameSink {
	return &FrameSink{ch: ch, binary: binary}
}

// Send implements pkg/sync.Sink.
func (s *FrameSink) Send(f wire.HostFrame) error {
	if s.binary {
		return s.ch.SendBinary(wire.EncodeHostFrameBinary(f))
	}
	encoded, err := wire.EncodeHostFrameJSON(f)
	if err != nil {
		return err
	}
	return s.ch.SendText(encoded)
}

// FrameSource decodes ClientFrames received on a Channel, trying
// whichever codec matches the message's transport framing (binary vs
// text) rather than a fixed preference, since a viewer may send
// control traffic as JSON even when Output is negotiated binary.
type FrameSource struct {
	ch Channel
}

// NewFrameSource wraps ch.
func NewFrameSource(ch Channel) *FrameSource {
	return &FrameSource{ch: ch}
}

// Recv blocks for the next ClientFrame, decoding it per Message.Binary.
func (s *FrameSource) Recv(ctx context.Context) (wire.ClientFrame, error) {
	msg, err := s.ch.Recv(ctx)
	if err != nil {
		return wire.ClientFrame{}, err
	}
	if msg.Binary {
		f, _, err := wire.DecodeClientFrameBinary(msg.Data)
		return f, err
	}
	return wire.DecodeClientFrameJSON(msg.Data)
}
