package protocol

// Item is one outgoing packet of a Response.
type Item struct {
	// Payload is the unframed packet: id followed by fields. For raw items it
	// is written to the stream exactly as given.
	Payload []byte

	// Threshold replaces the session compression threshold for this item
	// when Override is set.
	Threshold int
	Override  bool

	// Raw items bypass framing and compression. Encryption still applies.
	Raw bool
}

// Packet creates an Item framed with the session's compression threshold.
func Packet(payload []byte) Item {
	return Item{Payload: payload}
}

// PacketWithThreshold creates an Item framed with an explicit compression
// threshold. Use CompressionDisabled to force the uncompressed format.
func PacketWithThreshold(payload []byte, threshold int) Item {
	return Item{Payload: payload, Threshold: threshold, Override: true}
}

// RawBytes creates an Item written to the stream without framing.
func RawBytes(data []byte) Item {
	return Item{Payload: data, Raw: true}
}

// Response is what a state handler returns for one event: packets to send
// and whether the connection should close.
type Response struct {
	items      []Item
	now        bool
	afterFlush bool
}

// Answer returns a Response carrying items.
func Answer(items ...Item) Response {
	return Response{items: items}
}

// AnswerPackets returns a Response carrying payloads framed with the session
// threshold.
func AnswerPackets(payloads ...[]byte) Response {
	items := make([]Item, 0, len(payloads))
	for _, p := range payloads {
		items = append(items, Packet(p))
	}
	return Response{items: items}
}

// Empty returns a Response that sends nothing.
func Empty() Response {
	return Response{}
}

// Disconnect returns a Response that closes the connection without sending.
func Disconnect() Response {
	return Response{now: true}
}

// DisconnectWith returns a Response that sends items and then closes.
func DisconnectWith(items ...Item) Response {
	return Response{items: items, afterFlush: true}
}

// Add merges other into r. An immediate disconnect on the right replaces
// everything. Once r is an immediate disconnect, Add does nothing. Otherwise
// items are appended in order and a disconnect-after-flush carries over.
func (r *Response) Add(other Response) {
	if other.now {
		r.items = nil
		r.now = true
		r.afterFlush = false
		return
	}
	if r.now {
		return
	}
	r.items = append(r.items, other.items...)
	if other.afterFlush {
		r.afterFlush = true
	}
}

// AddItems appends items unless r is an immediate disconnect.
func (r *Response) AddItems(items ...Item) {
	r.Add(Answer(items...))
}

// Items returns the packets to send, in order.
func (r Response) Items() []Item {
	return r.items
}

// Len returns the number of packets to send.
func (r Response) Len() int {
	return len(r.items)
}

// IsDisconnect reports whether the connection closes after this Response.
func (r Response) IsDisconnect() bool {
	return r.now || r.afterFlush
}

// DisconnectNow reports whether the connection closes without sending.
func (r Response) DisconnectNow() bool {
	return r.now
}

// DisconnectAfterFlush reports whether the connection closes once the items
// are written.
func (r Response) DisconnectAfterFlush() bool {
	return r.afterFlush && !r.now
}
