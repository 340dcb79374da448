package server

// DropReason says why an inbound frame was discarded.
type DropReason string

const (
	DropDecode         DropReason = "decode"
	DropInactive       DropReason = "inactive"
	DropUnexpectedKind DropReason = "unexpected_kind"
	DropUnknownService DropReason = "unknown_service"
	DropUnavailable    DropReason = "unavailable"
)

// SessionObserver receives session lifecycle notifications. Methods are
// called synchronously and must not block.
type SessionObserver interface {
	SessionOpened(s *Session)
	SessionClosed(s *Session)
	MessageDropped(s *Session, reason DropReason)
}

type observers []SessionObserver

func (o observers) SessionOpened(s *Session) {
	for _, obs := range o {
		obs.SessionOpened(s)
	}
}

func (o observers) SessionClosed(s *Session) {
	for _, obs := range o {
		obs.SessionClosed(s)
	}
}

func (o observers) MessageDropped(s *Session, reason DropReason) {
	for _, obs := range o {
		obs.MessageDropped(s, reason)
	}
}
