// Package discord contains the ID types shared by the voice packages. Discord
// serializes all IDs as decimal strings, so these types carry their own JSON
// marshalers.
package discord

import (
	"bytes"
	"strconv"
)

// Snowflake is a Discord ID. The zero value is the null ID, which marshals to
// JSON null.
type Snowflake uint64

// NullSnowflake is the zero Snowflake. It is used to clear voice states.
const NullSnowflake Snowflake = 0

func (s *Snowflake) UnmarshalJSON(v []byte) error {
	p, err := parseJSONID(v)
	if err != nil {
		return err
	}

	*s = Snowflake(p)
	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	if s == NullSnowflake {
		return []byte("null"), nil
	}
	return []byte(`"` + s.String() + `"`), nil
}

func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

func (s Snowflake) IsValid() bool {
	return s != NullSnowflake
}

// ParseSnowflake parses a decimal string into a Snowflake. An empty string
// parses to NullSnowflake.
func ParseSnowflake(v string) (Snowflake, error) {
	if v == "" {
		return NullSnowflake, nil
	}

	u, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, err
	}

	return Snowflake(u), nil
}

func parseJSONID(v []byte) (uint64, error) {
	v = bytes.Trim(v, `"`)
	if string(v) == "null" || len(v) == 0 {
		return 0, nil
	}

	return strconv.ParseUint(string(v), 10, 64)
}

// GuildID is the ID of a guild, known on the voice wire as a server.
type GuildID Snowflake

func (s *GuildID) UnmarshalJSON(v []byte) error { return (*Snowflake)(s).UnmarshalJSON(v) }
func (s GuildID) MarshalJSON() ([]byte, error)  { return Snowflake(s).MarshalJSON() }
func (s GuildID) String() string                { return Snowflake(s).String() }
func (s GuildID) IsValid() bool                 { return Snowflake(s).IsValid() }

// ChannelID is the ID of a voice channel.
type ChannelID Snowflake

func (s *ChannelID) UnmarshalJSON(v []byte) error { return (*Snowflake)(s).UnmarshalJSON(v) }
func (s ChannelID) MarshalJSON() ([]byte, error)  { return Snowflake(s).MarshalJSON() }
func (s ChannelID) String() string                { return Snowflake(s).String() }
func (s ChannelID) IsValid() bool                 { return Snowflake(s).IsValid() }

// UserID is the ID of a user.
type UserID Snowflake

func (s *UserID) UnmarshalJSON(v []byte) error { return (*Snowflake)(s).UnmarshalJSON(v) }
func (s UserID) MarshalJSON() ([]byte, error)  { return Snowflake(s).MarshalJSON() }
func (s UserID) String() string                { return Snowflake(s).String() }
func (s UserID) IsValid() bool                 { return Snowflake(s).IsValid() }
