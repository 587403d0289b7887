package engine

import (
	"sync"

	"github.com/pion/webrtc/v3"
)

// DataProducer is a single inbound SCTP data source created by
// Transport.ProduceData (spec §4.1).
type DataProducer struct {
	ID                   DataProducerID
	sctpStreamParameters RawScalar
	channel              *webrtc.DataChannel

	mu        sync.Mutex
	closed    bool
	consumers map[DataConsumerID]*DataConsumer
	onClose   []func()
}

func newDataProducer(id DataProducerID, sctpStreamParameters RawScalar, channel *webrtc.DataChannel) *DataProducer {
	dp := &DataProducer{
		ID:                   id,
		sctpStreamParameters: sctpStreamParameters,
		channel:              channel,
		consumers:            make(map[DataConsumerID]*DataConsumer),
	}

	channel.OnMessage(func(msg webrtc.DataChannelMessage) {
		for _, c := range dp.snapshotConsumers() {
			c.send(msg)
		}
	})
	channel.OnClose(func() { _ = dp.Close() })

	return dp
}

func (dp *DataProducer) addConsumer(c *DataConsumer) {
	dp.mu.Lock()
	dp.consumers[c.ID] = c
	dp.mu.Unlock()
}

func (dp *DataProducer) removeConsumer(id DataConsumerID) {
	dp.mu.Lock()
	delete(dp.consumers, id)
	dp.mu.Unlock()
}

func (dp *DataProducer) snapshotConsumers() []*DataConsumer {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	out := make([]*DataConsumer, 0, len(dp.consumers))
	for _, c := range dp.consumers {
		out = append(out, c)
	}
	return out
}

// Close closes the underlying data channel. Safe to call more than once.
func (dp *DataProducer) Close() error {
	dp.mu.Lock()
	if dp.closed {
		dp.mu.Unlock()
		return nil
	}
	dp.closed = true
	callbacks := dp.onClose
	dp.onClose = nil
	dp.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return dp.channel.Close()
}

// OnClose registers a callback invoked when the data producer closes.
func (dp *DataProducer) OnClose(cb func()) {
	dp.mu.Lock()
	if dp.closed {
		dp.mu.Unlock()
		cb()
		return
	}
	dp.onClose = append(dp.onClose, cb)
	dp.mu.Unlock()
}
