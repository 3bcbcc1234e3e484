package contracts

import (
	"encoding/json"
	"fmt"
)

// Channel identifies the logical chat channel a message belongs to.
// Unknown is the zero value so unmapped identifiers resolve to it.
type Channel int

const (
	ChannelUnknown Channel = iota
	ChannelSay
	ChannelEmote
	ChannelYell
	ChannelOOC
	ChannelWhisper
	ChannelParty
	ChannelSystem
	ChannelAdmin
)

var channelNames = map[Channel]string{
	ChannelUnknown: "unknown",
	ChannelSay:     "say",
	ChannelEmote:   "emote",
	ChannelYell:    "yell",
	ChannelOOC:     "ooc",
	ChannelWhisper: "whisper",
	ChannelParty:   "party",
	ChannelSystem:  "system",
	ChannelAdmin:   "admin",
}

var channelsByName = func() map[string]Channel {
	m := make(map[string]Channel, len(channelNames))
	for c, name := range channelNames {
		m[name] = c
	}
	return m
}()

// ParseChannel maps a wire channel identifier to a Channel.
// Identifiers that are not an exact match resolve to ChannelUnknown.
func ParseChannel(name string) Channel {
	if c, ok := channelsByName[name]; ok {
		return c
	}
	return ChannelUnknown
}

// KnownChannel reports whether name maps to a channel other than unknown.
func KnownChannel(name string) bool {
	c, ok := channelsByName[name]
	return ok && c != ChannelUnknown
}

func (c Channel) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	return "unknown"
}

// RoomScoped reports whether delivery is limited to the sender's room.
func (c Channel) RoomScoped() bool {
	switch c {
	case ChannelSay, ChannelEmote, ChannelYell:
		return true
	}
	return false
}

// MuteSensitive reports whether mute relationships apply to this channel.
// System and admin traffic is always delivered.
func (c Channel) MuteSensitive() bool {
	switch c {
	case ChannelSay, ChannelEmote, ChannelYell, ChannelOOC, ChannelWhisper:
		return true
	}
	return false
}

// EchoesToSender reports whether the sender receives their own message back.
// Only first-person narration channels echo.
func (c Channel) EchoesToSender() bool {
	switch c {
	case ChannelSay, ChannelEmote:
		return true
	}
	return false
}

// MarshalJSON serializes the channel as its wire identifier.
func (c Channel) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON parses a wire channel identifier.
func (c *Channel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("channel must be a string: %w", err)
	}
	*c = ParseChannel(name)
	return nil
}
