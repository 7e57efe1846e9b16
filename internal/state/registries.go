package state

import (
	"context"
	"fmt"

	"github.com/energizer-project/blockgate/internal/protocol"
	"github.com/energizer-project/blockgate/internal/registry"
)

// Registries holds the serverbound packet tables for the dispatching states
// and the clientbound id table used to build outgoing packets.
type Registries struct {
	Login         *registry.Registry[*Login]
	Configuration *registry.Registry[*Configuration]
	Play          *registry.Registry[*Play]
	Clientbound   *registry.Registry[struct{}]
}

// on adapts a method expression to a registry handler.
func on[T any](f func(T, context.Context, *protocol.Reader) (protocol.Response, error)) registry.Handler[T] {
	return func(ctx context.Context, target T, body *protocol.Reader) (protocol.Response, error) {
		return f(target, ctx, body)
	}
}

func loginServerbound() []registry.Named[*Login] {
	return []registry.Named[*Login]{
		{Name: "hello", Handler: on((*Login).hello)},
		{Name: "key", Handler: on((*Login).key)},
		{Name: "custom_query_answer"},
		{Name: "login_acknowledged", Handler: on((*Login).acknowledged)},
		{Name: "cookie_response"},
	}
}

func configurationServerbound() []registry.Named[*Configuration] {
	return []registry.Named[*Configuration]{
		{Name: "client_information", Handler: on((*Configuration).clientInformation)},
		{Name: "cookie_response"},
		{Name: "custom_payload", Handler: on((*Configuration).customPayload)},
		{Name: "finish_configuration", Handler: on((*Configuration).finishAcknowledged)},
		{Name: "keep_alive", Handler: on((*Configuration).keepAlive)},
		{Name: "pong"},
		{Name: "resource_pack"},
		{Name: "select_known_packs", Handler: on((*Configuration).selectKnownPacks)},
	}
}

// playServerboundNames lists the play packets of 1.20.5 and 1.21 in id order.
var playServerboundNames = []string{
	"accept_teleportation",
	"block_entity_tag_query",
	"change_difficulty",
	"chat_ack",
	"chat_command",
	"chat_command_signed",
	"chat",
	"chat_session_update",
	"chunk_batch_received",
	"client_command",
	"client_information",
	"command_suggestion",
	"configuration_acknowledged",
	"container_button_click",
	"container_click",
	"container_close",
	"container_slot_state_changed",
	"cookie_response",
	"custom_payload",
	"debug_sample_subscription",
	"edit_book",
	"entity_tag_query",
	"interact",
	"jigsaw_generate",
	"keep_alive",
	"lock_difficulty",
	"move_player_pos",
	"move_player_pos_rot",
	"move_player_rot",
	"move_player_status_only",
	"move_vehicle",
	"paddle_boat",
	"pick_item",
	"ping_request",
	"place_recipe",
	"player_abilities",
	"player_action",
	"player_command",
	"player_input",
	"pong",
	"recipe_book_change_settings",
	"recipe_book_seen_recipe",
	"rename_item",
	"resource_pack",
	"seen_advancements",
	"select_trade",
	"set_beacon",
	"set_carried_item",
	"set_command_block",
	"set_command_minecart",
	"set_creative_mode_slot",
	"set_jigsaw_block",
	"set_structure_block",
	"sign_update",
	"swing",
	"teleport_to_entity",
	"use_item_on",
	"use_item",
}

// playServerboundNames1_21_2 inserts the packets added in 1.21.2.
func playServerboundNames1_21_2() []string {
	out := make([]string, 0, len(playServerboundNames)+2)
	for _, name := range playServerboundNames {
		switch name {
		case "change_difficulty":
			out = append(out, "bundle_item_selected")
		case "client_information":
			out = append(out, "client_tick_end")
		}
		out = append(out, name)
	}
	return out
}

func playHandler(name string) registry.Handler[*Play] {
	switch name {
	case "chat":
		return on((*Play).chat)
	case "chat_command", "chat_command_signed":
		return on((*Play).chatCommand)
	case "client_information":
		return on((*Play).clientInformation)
	case "configuration_acknowledged":
		return on((*Play).configurationAcknowledged)
	case "custom_payload":
		return on((*Play).customPayload)
	case "keep_alive":
		return on((*Play).keepAlive)
	}
	return nil
}

func playServerbound(v protocol.Version) []registry.Named[*Play] {
	list := playServerboundNames
	if v >= protocol.Version1_21_2 {
		list = playServerboundNames1_21_2()
	}
	out := make([]registry.Named[*Play], len(list))
	for i, name := range list {
		out[i] = registry.Named[*Play]{Name: name, Handler: playHandler(name)}
	}
	return out
}

func names(list ...string) []registry.Named[struct{}] {
	out := make([]registry.Named[struct{}], len(list))
	for i, name := range list {
		out[i].Name = name
	}
	return out
}

func loginClientbound() []registry.Named[struct{}] {
	return names("login_disconnect", "hello", "login_finished", "login_compression", "custom_query", "cookie_request")
}

func configurationClientbound(v protocol.Version) []registry.Named[struct{}] {
	list := []string{
		"cookie_request",
		"custom_payload",
		"disconnect",
		"finish_configuration",
		"keep_alive",
		"ping",
		"reset_chat",
		"registry_data",
		"resource_pack_pop",
		"resource_pack_push",
		"store_cookie",
		"transfer",
		"update_enabled_features",
		"update_tags",
		"select_known_packs",
	}
	if v >= protocol.Version1_21 {
		list = append(list, "custom_report_details", "server_links")
	}
	return names(list...)
}

// playClientbound holds the play ids Blockgate sends. Gameplay packets are
// built by the World.
var playClientbound = map[protocol.Version]map[string]int32{
	protocol.Version1_20_5: {
		"disconnect":          0x1D,
		"keep_alive":          0x26,
		"start_configuration": 0x69,
		"system_chat":         0x6C,
		"transfer":            0x73,
	},
	protocol.Version1_21: {
		"disconnect":          0x1D,
		"keep_alive":          0x26,
		"start_configuration": 0x69,
		"system_chat":         0x6C,
		"transfer":            0x73,
	},
	protocol.Version1_21_2: {
		"disconnect":          0x1D,
		"keep_alive":          0x27,
		"start_configuration": 0x70,
		"system_chat":         0x73,
		"transfer":            0x7A,
	},
}

// NewRegistries builds the packet tables for every known protocol version.
func NewRegistries() (*Registries, error) {
	r := &Registries{
		Login:         registry.New[*Login](),
		Configuration: registry.New[*Configuration](),
		Play:          registry.New[*Play](),
		Clientbound:   registry.New[struct{}](),
	}

	for _, v := range protocol.KnownVersions {
		var errs []error
		errs = append(errs,
			r.Login.RegisterSequence(v, protocol.StateLogin, loginServerbound()),
			r.Configuration.RegisterSequence(v, protocol.StateConfiguration, configurationServerbound()),
			r.Play.RegisterSequence(v, protocol.StatePlay, playServerbound(v)),
			r.Clientbound.RegisterSequence(v, protocol.StateLogin, loginClientbound()),
			r.Clientbound.RegisterSequence(v, protocol.StateConfiguration, configurationClientbound(v)),
		)
		for name, id := range playClientbound[v] {
			errs = append(errs, r.Clientbound.Register(v, protocol.StatePlay, id, name, nil))
		}
		for _, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("protocol %d: %w", v, err)
			}
		}
	}
	return r, nil
}

// MustRegistries is like NewRegistries but panics on error.
func MustRegistries() *Registries {
	r, err := NewRegistries()
	if err != nil {
		panic(err)
	}
	return r
}

// Packet starts an outgoing packet by clientbound name.
func (r *Registries) Packet(v protocol.Version, s protocol.State, name string) (*protocol.PacketBuilder, error) {
	id, err := r.Clientbound.IDOf(v, s, name)
	if err != nil {
		return nil, fmt.Errorf("clientbound %s/%s: %w", s, name, err)
	}
	return protocol.NewPacket(id), nil
}

// Supports reports whether every table has entries for v.
func (r *Registries) Supports(v protocol.Version) bool {
	return r.Login.Supports(v) && r.Configuration.Supports(v) && r.Play.Supports(v) && r.Clientbound.Supports(v)
}
