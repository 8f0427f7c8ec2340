// Package channels models the messaging channels a conversation can live on
// and normalizes their inbound payloads.
package channels

// Channel types.
const (
	TypeWhatsApp  = "whatsapp"
	TypeInstagram = "instagram"
	TypeTelegram  = "telegram"
)

// Content types for messages on any channel.
const (
	ContentText     = "text"
	ContentAudio    = "audio"
	ContentImage    = "image"
	ContentVideo    = "video"
	ContentDocument = "document"
)

// Capabilities describes what a channel can carry.
type Capabilities struct {
	SendText     bool
	SendAudio    bool
	SendImage    bool
	SendVideo    bool
	SendDocument bool
	Followups    bool
}

// SupportsMedia reports whether the channel can carry any non-text content.
func (c Capabilities) SupportsMedia() bool {
	return c.SendAudio || c.SendImage || c.SendVideo || c.SendDocument
}

// SupportsContent reports whether the channel can send the given content type.
func (c Capabilities) SupportsContent(contentType string) bool {
	switch contentType {
	case ContentText:
		return c.SendText
	case ContentAudio:
		return c.SendAudio
	case ContentImage:
		return c.SendImage
	case ContentVideo:
		return c.SendVideo
	case ContentDocument:
		return c.SendDocument
	default:
		return false
	}
}

// CapabilitiesFor returns the capability matrix for a channel type. Unknown
// channels get text only.
func CapabilitiesFor(channelType string) Capabilities {
	switch channelType {
	case TypeWhatsApp:
		return Capabilities{
			SendText:     true,
			SendAudio:    true,
			SendImage:    true,
			SendVideo:    true,
			SendDocument: true,
			Followups:    true,
		}
	case TypeInstagram:
		return Capabilities{
			SendText:  true,
			SendAudio: true,
			SendImage: true,
			SendVideo: true,
		}
	case TypeTelegram:
		return Capabilities{
			SendText:     true,
			SendAudio:    true,
			SendImage:    true,
			SendVideo:    true,
			SendDocument: true,
		}
	default:
		return Capabilities{SendText: true}
	}
}

// IsKnown reports whether the channel type is one this service handles.
func IsKnown(channelType string) bool {
	switch channelType {
	case TypeWhatsApp, TypeInstagram, TypeTelegram:
		return true
	}
	return false
}
