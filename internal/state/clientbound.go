package state

import (
	"github.com/energizer-project/blockgate/internal/auth"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/protocol"
)

// BrandChannel carries the server and client brand strings.
const BrandChannel = "minecraft:brand"

// LoginDisconnect builds the login disconnect packet. Its id is 0x00 in every
// version, so it is usable before the client's version is known.
func LoginDisconnect(reason string) []byte {
	return protocol.NewPacket(0x00).WriteString(protocol.Text(reason).JSON()).Build()
}

func (r *Registries) encryptionRequest(v protocol.Version, publicKey, token []byte, authenticate bool) ([]byte, error) {
	b, err := r.Packet(v, protocol.StateLogin, "hello")
	if err != nil {
		return nil, err
	}
	return b.WriteString("").
		WriteByteArray(publicKey).
		WriteByteArray(token).
		WriteBool(authenticate).
		Build(), nil
}

func (r *Registries) loginSuccess(v protocol.Version, profile auth.Profile) ([]byte, error) {
	b, err := r.Packet(v, protocol.StateLogin, "login_finished")
	if err != nil {
		return nil, err
	}
	b.WriteUUID(profile.ID).
		WriteString(profile.Name).
		WriteVarInt(int32(len(profile.Properties)))
	for _, prop := range profile.Properties {
		b.WriteString(prop.Name).WriteString(prop.Value)
		b.WriteBool(prop.Signature != "")
		if prop.Signature != "" {
			b.WriteString(prop.Signature)
		}
	}
	// Removed in 1.21.2.
	if v < protocol.Version1_21_2 {
		b.WriteBool(true)
	}
	return b.Build(), nil
}

func (r *Registries) setCompression(v protocol.Version, threshold int) ([]byte, error) {
	b, err := r.Packet(v, protocol.StateLogin, "login_compression")
	if err != nil {
		return nil, err
	}
	return b.WriteVarInt(int32(threshold)).Build(), nil
}

// Disconnect builds the disconnect packet of the configuration or play
// state. The reason is sent as an NBT string tag.
func (r *Registries) Disconnect(v protocol.Version, s protocol.State, reason string) ([]byte, error) {
	b, err := r.Packet(v, s, "disconnect")
	if err != nil {
		return nil, err
	}
	return b.WriteNBTString(reason).Build(), nil
}

// CustomPayload builds a plugin message for the configuration or play
// state.
func (r *Registries) CustomPayload(v protocol.Version, s protocol.State, channel string, data []byte) ([]byte, error) {
	id, err := r.Clientbound.IDOf(v, s, "custom_payload")
	if err != nil {
		return nil, err
	}
	return protocol.NewPacket(id).WriteString(channel).WriteBytes(data).Build(), nil
}

func (r *Registries) brand(v protocol.Version, brand string) ([]byte, error) {
	data := protocol.NewPacketBuilder().WriteString(brand).Build()
	return r.CustomPayload(v, protocol.StateConfiguration, BrandChannel, data)
}

func (r *Registries) selectKnownPacks(v protocol.Version, packs []players.KnownPack) ([]byte, error) {
	b, err := r.Packet(v, protocol.StateConfiguration, "select_known_packs")
	if err != nil {
		return nil, err
	}
	b.WriteVarInt(int32(len(packs)))
	for _, p := range packs {
		b.WriteString(p.Namespace).WriteString(p.ID).WriteString(p.Version)
	}
	return b.Build(), nil
}

func (r *Registries) finishConfiguration(v protocol.Version) ([]byte, error) {
	b, err := r.Packet(v, protocol.StateConfiguration, "finish_configuration")
	if err != nil {
		return nil, err
	}
	return b.Build(), nil
}

func (r *Registries) keepAlive(v protocol.Version, s protocol.State, nonce int64) ([]byte, error) {
	b, err := r.Packet(v, s, "keep_alive")
	if err != nil {
		return nil, err
	}
	return b.WriteInt64(nonce).Build(), nil
}

func (r *Registries) startConfiguration(v protocol.Version) ([]byte, error) {
	b, err := r.Packet(v, protocol.StatePlay, "start_configuration")
	if err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// Transfer builds the packet asking the client to reconnect to host:port.
func (r *Registries) Transfer(v protocol.Version, s protocol.State, host string, port int) ([]byte, error) {
	b, err := r.Packet(v, s, "transfer")
	if err != nil {
		return nil, err
	}
	return b.WriteString(host).WriteVarInt(int32(port)).Build(), nil
}

// SystemChat builds a chat line from the server. overlay shows it above the
// hotbar instead of in the chat window.
func (r *Registries) SystemChat(v protocol.Version, text string, overlay bool) ([]byte, error) {
	b, err := r.Packet(v, protocol.StatePlay, "system_chat")
	if err != nil {
		return nil, err
	}
	return b.WriteNBTString(text).WriteBool(overlay).Build(), nil
}

// CorePack is the vanilla data pack every client of version v knows.
func CorePack(v protocol.Version) players.KnownPack {
	return players.KnownPack{Namespace: "minecraft", ID: "core", Version: v.Name()}
}
