// Command invitectl manages invites on a gatelog node and redeems invite
// codes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/NicolasHaas/gatelog/pkg/client"
	"github.com/NicolasHaas/gatelog/pkg/logging"
	"github.com/NicolasHaas/gatelog/pkg/protocol"
	"github.com/NicolasHaas/gatelog/pkg/version"
)

const usage = `usage: invitectl [flags] <command> [args]

commands:
  info                      show the node's server id and discovery key
  create                    issue an invite and print its code
  list                      list admissible invites (--all for every invite)
  show <code>               show an admissible invite
  revoke <code>             revoke an invite
  claim <code>              record a redemption attempt
  redeem <code>             redeem an invite and remember the joined log
  token <label>             create an API token
  export                    print every invite as YAML
  bookmark add|rm|ls        manage saved nodes
  version                   print the version

flags:
`

// globalEnv holds GATELOG_* overrides for the global flags.
type globalEnv struct {
	Node     string `env:"NODE"`
	Token    string `env:"TOKEN"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"warn"`
}

type cli struct {
	out       io.Writer
	settings  *client.Settings
	bookmarks *client.BookmarkStore
	node      string
	token     string
	output    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "invitectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	var genv globalEnv
	if err := env.ParseWithOptions(&genv, env.Options{Prefix: "GATELOG_"}); err != nil {
		return err
	}

	fs := pflag.NewFlagSet("invitectl", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	node := fs.String("node", genv.Node, "bookmark name or node address (host:port)")
	token := fs.String("token", genv.Token, "API bearer token (overrides the bookmark's)")
	dir := fs.String("config-dir", client.ConfigDir(), "directory for settings and bookmarks")
	output := fs.StringP("output", "o", "", "output format: text or json")
	logLevel := fs.String("log-level", genv.LogLevel, "Log level: "+logging.LevelNames())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := logging.Setup(logging.Options{Level: *logLevel, Output: os.Stderr}); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	c := &cli{
		out:       out,
		settings:  client.LoadSettings(*dir),
		bookmarks: client.NewBookmarkStore(filepath.Join(*dir, "nodes.yaml")),
		node:      *node,
		token:     *token,
		output:    *output,
	}
	if err := c.bookmarks.Load(); err != nil {
		return fmt.Errorf("load bookmarks: %w", err)
	}
	if c.output == "" {
		c.output = c.settings.Output
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "info":
		return c.info(ctx)
	case "create":
		return c.create(ctx, rest)
	case "list":
		return c.list(ctx, rest)
	case "show":
		return c.show(ctx, rest)
	case "revoke":
		return c.revoke(ctx, rest)
	case "claim":
		return c.claim(ctx, rest)
	case "redeem":
		return c.redeem(ctx, rest)
	case "token":
		return c.createToken(ctx, rest)
	case "export":
		return c.export(ctx)
	case "bookmark":
		return c.bookmark(rest)
	case "version":
		_, err := fmt.Fprintln(out, version.Full())
		return err
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// connect resolves the target node from flags, environment and settings.
// A bookmark name expands to its address and token.
func (c *cli) connect() (*client.Client, string, error) {
	target := c.node
	if target == "" {
		target = c.settings.DefaultNode
	}
	if target == "" {
		return nil, "", errors.New("no node given (use --node, GATELOG_NODE or a default bookmark)")
	}

	addr, token := target, c.token
	if b := c.bookmarks.Find(target); b != nil {
		addr = b.Addr
		if token == "" {
			token = b.Token
		}
		c.bookmarks.Touch(b.Name, time.Now().Unix())
		_ = c.bookmarks.Save()
	}
	return client.New(addr, token), target, nil
}

func (c *cli) print(v any, text func(w io.Writer) error) error {
	if c.output == "json" {
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(c.out)
}

func oneArg(name string, args []string) (*pflag.FlagSet, func() (string, error)) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	return fs, func() (string, error) {
		if err := fs.Parse(args); err != nil {
			return "", err
		}
		if fs.NArg() != 1 {
			return "", fmt.Errorf("%s: expected exactly one invite code", name)
		}
		return fs.Arg(0), nil
	}
}

func (c *cli) info(ctx context.Context) error {
	cl, _, err := c.connect()
	if err != nil {
		return err
	}
	info, err := cl.Info(ctx)
	if err != nil {
		return err
	}
	return c.print(info, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "server id:     %s\ndiscovery key: %s\nversion:       %s (%s, built %s)\n",
			info.ServerID, info.DiscoveryKey, info.Version, info.Commit, info.BuiltAt)
		return err
	})
}

func (c *cli) create(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
	expiresAt := fs.String("expires-at", "", "absolute expiry (RFC 3339); wins over relative flags")
	days := fs.String("days", "", "expire in this many days")
	hours := fs.String("hours", "", "expire in this many hours")
	minutes := fs.String("minutes", "", "expire in this many minutes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cl, _, err := c.connect()
	if err != nil {
		return err
	}
	code, err := cl.CreateInvite(ctx, protocol.CreateInviteRequest{
		ExpiresAt:       *expiresAt,
		ExpireInDays:    json.Number(*days),
		ExpireInHours:   json.Number(*hours),
		ExpireInMinutes: json.Number(*minutes),
	})
	if err != nil {
		return err
	}
	return c.print(protocol.CreateInviteResponse{Code: code}, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, code)
		return err
	})
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	all := fs.Bool("all", false, "include revoked and expired invites")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cl, _, err := c.connect()
	if err != nil {
		return err
	}
	invites, err := cl.ListInvites(ctx, *all)
	if err != nil {
		return err
	}
	return c.print(invites, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tEXPIRES\tCREATED BY\tREVOKED\tCODE")
		for _, inv := range invites {
			fmt.Fprintf(tw, "%.12s\t%s\t%s\t%t\t%s\n",
				inv.ID, inv.ExpiresAt.Local().Format(time.DateTime), inv.CreatedBy, inv.Revoked, inv.Code)
		}
		return tw.Flush()
	})
}

func (c *cli) show(ctx context.Context, args []string) error {
	_, parse := oneArg("show", args)
	code, err := parse()
	if err != nil {
		return err
	}
	cl, _, err := c.connect()
	if err != nil {
		return err
	}
	inv, err := cl.ShowInvite(ctx, code)
	if errors.Is(err, client.ErrNotFound) {
		return errors.New("invite is unknown, revoked or expired")
	}
	if err != nil {
		return err
	}
	return c.print(inv, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "id:              %s\nserver:          %s\nexpires:         %s\nprotocol expiry: %s\ncreated by:      %s\n",
			inv.ID, inv.ServerID, inv.ExpiresAt.Local().Format(time.DateTime),
			inv.ProtocolExpiry.Local().Format(time.DateTime), inv.CreatedBy)
		return err
	})
}

func (c *cli) revoke(ctx context.Context, args []string) error {
	_, parse := oneArg("revoke", args)
	code, err := parse()
	if err != nil {
		return err
	}
	cl, _, err := c.connect()
	if err != nil {
		return err
	}
	revoked, err := cl.Revoke(ctx, code)
	if err != nil {
		return err
	}
	return c.print(protocol.RevokeInviteResponse{Revoked: revoked}, func(w io.Writer) error {
		msg := "revoked"
		if !revoked {
			msg = "no such invite"
		}
		_, err := fmt.Fprintln(w, msg)
		return err
	})
}

func (c *cli) claim(ctx context.Context, args []string) error {
	fs, parse := oneArg("claim", args)
	by := fs.String("by", "", "who is claiming (default: the token's label)")
	code, err := parse()
	if err != nil {
		return err
	}
	cl, _, err := c.connect()
	if err != nil {
		return err
	}
	return cl.Claim(ctx, code, *by)
}

func (c *cli) redeem(ctx context.Context, args []string) error {
	_, parse := oneArg("redeem", args)
	code, err := parse()
	if err != nil {
		return err
	}
	cl, target, err := c.connect()
	if err != nil {
		return err
	}
	m, err := cl.Redeem(ctx, code)
	if err != nil {
		return err
	}
	c.settings.RecordJoin(target, m)
	if err := c.settings.Save(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return c.print(c.settings.Joined[len(c.settings.Joined)-1], func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "joined log %x\n", m.DiscoveryKey)
		return err
	})
}

func (c *cli) createToken(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	role := fs.String("role", "member", "role: member, moderator or admin")
	hours := fs.Int("expires-in-hours", 0, "token lifetime in hours (0 = never expires)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("token: expected a label")
	}

	cl, _, err := c.connect()
	if err != nil {
		return err
	}
	created, err := cl.CreateToken(ctx, protocol.CreateTokenRequest{
		Label:          fs.Arg(0),
		Role:           *role,
		ExpiresInHours: *hours,
	})
	if err != nil {
		return err
	}
	return c.print(created, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, created.Token)
		return err
	})
}

func (c *cli) export(ctx context.Context) error {
	cl, _, err := c.connect()
	if err != nil {
		return err
	}
	data, err := cl.Export(ctx)
	if err != nil {
		return err
	}
	_, err = c.out.Write(data)
	return err
}

func (c *cli) bookmark(args []string) error {
	if len(args) == 0 {
		return errors.New("bookmark: expected add, rm or ls")
	}
	switch args[0] {
	case "add":
		fs := pflag.NewFlagSet("bookmark add", pflag.ContinueOnError)
		makeDefault := fs.Bool("default", false, "use this node when --node is not given")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 2 {
			return errors.New("bookmark add: expected <name> <addr>")
		}
		c.bookmarks.Add(client.Bookmark{Name: fs.Arg(0), Addr: fs.Arg(1), Token: c.token})
		if err := c.bookmarks.Save(); err != nil {
			return err
		}
		if *makeDefault {
			c.settings.DefaultNode = fs.Arg(0)
			return c.settings.Save()
		}
		return nil
	case "rm":
		if len(args) != 2 {
			return errors.New("bookmark rm: expected <name>")
		}
		if !c.bookmarks.Remove(args[1]) {
			return fmt.Errorf("no bookmark %q", args[1])
		}
		return c.bookmarks.Save()
	case "ls":
		return c.print(c.bookmarks.Bookmarks, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tADDR\tDEFAULT")
			for _, b := range c.bookmarks.Bookmarks {
				fmt.Fprintf(tw, "%s\t%s\t%t\n", b.Name, b.Addr, b.Name == c.settings.DefaultNode)
			}
			return tw.Flush()
		})
	default:
		return fmt.Errorf("bookmark: unknown subcommand %q", args[0])
	}
}
