package engine

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// DataConsumer is a single outbound SCTP data sink created by
// Transport.ConsumeData (spec §4.1). Unlike a media Consumer it is not
// created paused: SCTP data channels have no equivalent RTP gate, and the
// spec names no consumer_data_resume operation.
type DataConsumer struct {
	ID           DataConsumerID
	DataProducer *DataProducer

	mu      sync.Mutex
	channel *webrtc.DataChannel
	closed  bool
	onClose []func()
}

func newDataConsumer(id DataConsumerID, producer *DataProducer, channel *webrtc.DataChannel) *DataConsumer {
	dc := &DataConsumer{ID: id, DataProducer: producer, channel: channel}
	channel.OnClose(func() { _ = dc.Close() })
	return dc
}

func (dc *DataConsumer) send(msg webrtc.DataChannelMessage) {
	dc.mu.Lock()
	channel := dc.channel
	closed := dc.closed
	dc.mu.Unlock()

	if closed || channel == nil {
		return
	}
	if msg.IsString {
		_ = channel.SendText(string(msg.Data))
	} else {
		_ = channel.Send(msg.Data)
	}
}

// Close detaches this data consumer from its data producer. Safe to call
// more than once.
func (dc *DataConsumer) Close() error {
	dc.mu.Lock()
	if dc.closed {
		dc.mu.Unlock()
		return nil
	}
	dc.closed = true
	callbacks := dc.onClose
	dc.onClose = nil
	channel := dc.channel
	dc.mu.Unlock()

	dc.DataProducer.removeConsumer(dc.ID)

	for _, cb := range callbacks {
		cb()
	}
	return channel.Close()
}

// OnClose registers a callback invoked when the data consumer closes.
func (dc *DataConsumer) OnClose(cb func()) {
	dc.mu.Lock()
	if dc.closed {
		dc.mu.Unlock()
		cb()
		return
	}
	dc.onClose = append(dc.onClose, cb)
	dc.mu.Unlock()
}
