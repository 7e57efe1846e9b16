// Package cli implements the interactive operator console. It reads one
// command per line and prints tables for listings.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/blockgate/internal/auth"
	"github.com/energizer-project/blockgate/internal/db"
	"github.com/energizer-project/blockgate/internal/events"
	"github.com/energizer-project/blockgate/internal/network"
	"github.com/energizer-project/blockgate/internal/players"
	"github.com/energizer-project/blockgate/internal/state"
	"github.com/energizer-project/blockgate/internal/util"
)

// KickReason is used when kick is given no reason.
const KickReason = "Kicked by an operator"

// CLI provides the interactive console.
type CLI struct {
	env      *state.Env
	listener *network.Listener
	access   *db.AccessDatabase
	in       io.Reader
	out      io.Writer
}

// NewCLI creates a console reading from in and writing to out. access may
// be nil, in which case ban and whitelist commands are unavailable.
func NewCLI(env *state.Env, listener *network.Listener, access *db.AccessDatabase, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		env:      env,
		listener: listener,
		access:   access,
		in:       in,
		out:      out,
	}
}

// Start runs the read loop until input ends, ctx is cancelled, or stop is
// entered.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nBlockgate console ready. Type 'help' for available commands.")

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if c.Exec(ctx, line) {
				return
			}
		}
	}
}

// Exec runs one command line and reports whether the console should exit.
func (c *CLI) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var err error
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions":
		c.printSessions()
	case "list", "players":
		c.printPlayers()
	case "kick":
		err = c.cmdKick(args)
	case "say":
		err = c.cmdSay(args)
	case "ban":
		err = c.cmdBan(ctx, args)
	case "pardon":
		err = c.cmdPardon(ctx, args)
	case "bans":
		err = c.printBans(ctx)
	case "whitelist", "wl":
		err = c.cmdWhitelist(ctx, args)
	case "stop", "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down Blockgate...")
		if c.env.Events != nil {
			c.env.Events.Emit(ctx, events.New(events.EventShutdown, "cli", nil))
		}
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  status                       Show listener and host status
  sessions                     List open connections
  list                         List online players
  kick <name> [reason]         Disconnect a player
  say <message>                Broadcast a system message
  ban <name> [reason]          Ban a player and kick them if online
  pardon <name>                Lift a ban
  bans                         List active bans
  whitelist add|remove <name>  Edit the allow list
  whitelist list               Show the allow list
  stop                         Shut down Blockgate
  help                         Show this help message`)
}

func (c *CLI) newTable(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func (c *CLI) printStatus() {
	srv := c.env.Config.GetServer()
	load := util.GetHostLoad("")

	fmt.Fprintf(c.out, "\n  Address:   %s:%d\n", srv.BindAddress, srv.Port)
	fmt.Fprintf(c.out, "  Players:   %d/%d\n", c.env.Players.Count(), srv.MaxPlayers)
	fmt.Fprintf(c.out, "  Sessions:  %d\n", c.listener.Registry().Count())
	fmt.Fprintf(c.out, "  Online:    %v\n", srv.OnlineMode)
	fmt.Fprintf(c.out, "  Uptime:    %s\n", util.Uptime().Truncate(time.Second))
	fmt.Fprintf(c.out, "  CPU:       %.1f%%\n", load.CPUPercent)
	fmt.Fprintf(c.out, "  Memory:    %.1f%%\n\n", load.MemoryPercent)
}

func (c *CLI) printSessions() {
	tw := c.newTable("ID", "Remote", "State", "Protocol", "Player", "Connected")
	for _, s := range c.listener.Registry().All() {
		info := s.Info()
		player := info.Player
		if player == "" {
			player = "-"
		}
		tw.Append([]string{
			fmt.Sprint(info.ID),
			info.Remote,
			info.State,
			fmt.Sprint(info.Protocol),
			player,
			time.Since(info.ConnectedAt).Truncate(time.Second).String(),
		})
	}
	tw.Render()
}

func (c *CLI) printPlayers() {
	online := c.env.Players.Online()
	tw := c.newTable("Name", "UUID", "Version", "Remote", "Latency")
	for _, p := range online {
		tw.Append([]string{
			p.Name(),
			p.UUID().String(),
			p.Version().Name(),
			p.RemoteAddr(),
			p.Latency().Truncate(time.Millisecond).String(),
		})
	}
	tw.Render()
	fmt.Fprintf(c.out, "%d player(s) online\n", len(online))
}

func (c *CLI) player(name string) (*players.Player, error) {
	p, ok := c.env.Players.Get(name)
	if !ok {
		return nil, fmt.Errorf("player %s is not online", name)
	}
	return p, nil
}

func (c *CLI) cmdKick(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: kick <name> [reason]")
	}
	p, err := c.player(args[0])
	if err != nil {
		return err
	}
	reason := KickReason
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	p.Kick(reason)
	log.Info().Str("player", p.Name()).Str("reason", reason).Msg("CLI: player kicked")
	fmt.Fprintf(c.out, "Kicked %s: %s\n", p.Name(), reason)
	return nil
}

func (c *CLI) cmdSay(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: say <message>")
	}
	text := "[Server] " + strings.Join(args, " ")
	n := c.listener.Say(text)
	fmt.Fprintf(c.out, "Message sent to %d player(s)\n", n)
	return nil
}

func (c *CLI) requireAccess() error {
	if c.access == nil {
		return errors.New("access database not available")
	}
	return nil
}

func (c *CLI) cmdBan(ctx context.Context, args []string) error {
	if err := c.requireAccess(); err != nil {
		return err
	}
	if len(args) < 1 {
		return errors.New("usage: ban <name> [reason]")
	}
	name := args[0]
	if !auth.ValidName(name) {
		return fmt.Errorf("invalid player name: %s", name)
	}
	reason := strings.Join(args[1:], " ")

	if err := c.access.Ban(ctx, name, reason, "cli", nil); err != nil {
		return err
	}
	if p, ok := c.env.Players.Get(name); ok {
		p.Kick(state.BanMessage(db.Ban{Name: name, Reason: reason}))
	}
	log.Info().Str("name", name).Str("reason", reason).Msg("CLI: player banned")
	fmt.Fprintf(c.out, "Banned %s\n", name)
	return nil
}

func (c *CLI) cmdPardon(ctx context.Context, args []string) error {
	if err := c.requireAccess(); err != nil {
		return err
	}
	if len(args) < 1 {
		return errors.New("usage: pardon <name>")
	}
	if err := c.access.Pardon(ctx, args[0]); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("%s is not banned", args[0])
		}
		return err
	}
	fmt.Fprintf(c.out, "Pardoned %s\n", args[0])
	return nil
}

func (c *CLI) printBans(ctx context.Context) error {
	if err := c.requireAccess(); err != nil {
		return err
	}
	bans, err := c.access.ListBans(ctx)
	if err != nil {
		return err
	}
	tw := c.newTable("Name", "Reason", "Source", "Created", "Expires")
	for _, b := range bans {
		expires := "never"
		if b.ExpiresAt != nil {
			expires = b.ExpiresAt.Format(time.RFC3339)
		}
		tw.Append([]string{b.Name, b.Reason, b.Source, b.CreatedAt.Format(time.RFC3339), expires})
	}
	tw.Render()
	return nil
}

func (c *CLI) cmdWhitelist(ctx context.Context, args []string) error {
	if err := c.requireAccess(); err != nil {
		return err
	}
	if len(args) < 1 {
		return errors.New("usage: whitelist add|remove|list [name]")
	}

	switch strings.ToLower(args[0]) {
	case "list":
		entries, err := c.access.ListAllowed(ctx)
		if err != nil {
			return err
		}
		tw := c.newTable("Name", "Added")
		for _, e := range entries {
			tw.Append([]string{e.Name, e.AddedAt.Format(time.RFC3339)})
		}
		tw.Render()
		if !c.env.Config.GetServer().Whitelist {
			fmt.Fprintln(c.out, "The allow list is not enforced (server.whitelist is off)")
		}
		return nil
	case "add":
		if len(args) < 2 || !auth.ValidName(args[1]) {
			return errors.New("usage: whitelist add <name>")
		}
		if err := c.access.AllowAdd(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "Added %s to the allow list\n", args[1])
		return nil
	case "remove":
		if len(args) < 2 {
			return errors.New("usage: whitelist remove <name>")
		}
		if err := c.access.AllowRemove(ctx, args[1]); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("%s is not on the allow list", args[1])
			}
			return err
		}
		fmt.Fprintf(c.out, "Removed %s from the allow list\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown whitelist action: %s", args[0])
	}
}
