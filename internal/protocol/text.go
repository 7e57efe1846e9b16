package protocol

import (
	"encoding/json"
	"unicode/utf16"
)

// TextComponent is the subset of the chat component format Blockgate emits.
type TextComponent struct {
	Text  string          `json:"text"`
	Color string          `json:"color,omitempty"`
	Bold  bool            `json:"bold,omitempty"`
	Extra []TextComponent `json:"extra,omitempty"`
}

// Text returns a plain component.
func Text(s string) TextComponent {
	return TextComponent{Text: s}
}

// JSON returns the component serialized for the login and status states.
func (c TextComponent) JSON() string {
	data, err := json.Marshal(c)
	if err != nil {
		return `{"text":""}`
	}
	return string(data)
}

// LegacyString encodes s as a UTF-16BE string preceded by its length in code
// units, the format of the pre-1.7 kick packet.
func LegacyString(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2, 2+len(units)*2)
	out[0] = byte(len(units) >> 8)
	out[1] = byte(len(units))
	for _, u := range units {
		out = append(out, byte(u>>8), byte(u))
	}
	return out
}
