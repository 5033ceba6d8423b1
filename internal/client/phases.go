package client

// Phase is one of the nine lifecycle states a Client occupies, per
// spec.md §3/§4.4. Declared in the same order as the original's Client::State
// enum (BEGIN_READING_CONNECT_PASSWORD .. DISCONNECTED) so phase comparisons
// like "< ForwardBody" read the same way they do in
// original_source/.../RequestHandler.h.
type Phase int

const (
	PhaseBeginReadPassword Phase = iota
	PhaseReadPassword
	PhaseReadHeader
	PhaseBufferBody
	PhaseCheckoutSession
	PhaseSendHeaderToApp
	PhaseForwardBody
	PhaseWriteSimpleResponse
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseBeginReadPassword:
		return "BeginReadPassword"
	case PhaseReadPassword:
		return "ReadPassword"
	case PhaseReadHeader:
		return "ReadHeader"
	case PhaseBufferBody:
		return "BufferBody"
	case PhaseCheckoutSession:
		return "CheckoutSession"
	case PhaseSendHeaderToApp:
		return "SendHeaderToApp"
	case PhaseForwardBody:
		return "ForwardBody"
	case PhaseWriteSimpleResponse:
		return "WriteSimpleResponse"
	case PhaseDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
