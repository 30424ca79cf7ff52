// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/protocol"
)

// Command is one parsed input line. The concrete types below are the
// complete set; consumers switch on them exhaustively.
type Command interface {
	// Name is the canonical command name without the slash ("join",
	// "cabal add"). Say returns "say".
	Name() string
}

// CabalAdd adds a cabal and makes it active.
type CabalAdd struct{ Key ref.CabalKey }

// CabalSet makes an already-added cabal active.
type CabalSet struct{ Key ref.CabalKey }

// CabalList lists cabals in insertion order.
type CabalList struct{}

// Channels lists the channels known to the active cabal.
type Channels struct{}

// Connections lists the live peer links of the active cabal.
type Connections struct{}

// Connect dials a peer for the active cabal.
type Connect struct{ Address string }

// Listen binds a listener for the active cabal. Address is always
// HOST:PORT; a bare port has been expanded to 0.0.0.0:PORT.
type Listen struct{ Address string }

// DeleteNick clears the local nickname.
type DeleteNick struct{}

// Nick sets the local nickname.
type Nick struct{ Nickname string }

// Join joins a channel in the active cabal and focuses its window.
type Join struct{ Channel string }

// Part leaves a channel. An empty Channel means the active window's.
type Part struct{ Channel string }

// Members lists a channel's members. An empty Channel means the active
// window's.
type Members struct{ Channel string }

// Topic shows the active channel's topic when Text is empty and sets it
// otherwise.
type Topic struct{ Text string }

// Whoami shows the local identity and nickname.
type Whoami struct{}

// Window focuses a window by Index, or by fuzzy Query when Query is set.
type Window struct {
	Index int
	Query string
}

// Close closes a window. HasIndex false means the active window.
type Close struct {
	Index    int
	HasIndex bool
}

// Help shows the command list, or one command's usage when Topic is set.
type Help struct{ Topic string }

// Exit shuts the client down.
type Exit struct{}

// Say posts plain text to the active channel.
type Say struct{ Text string }

func (CabalAdd) Name() string    { return "cabal add" }
func (CabalSet) Name() string    { return "cabal set" }
func (CabalList) Name() string   { return "cabal list" }
func (Channels) Name() string    { return "channels" }
func (Connections) Name() string { return "connections" }
func (Connect) Name() string     { return "connect" }
func (Listen) Name() string      { return "listen" }
func (DeleteNick) Name() string  { return "delete nick" }
func (Nick) Name() string        { return "nick" }
func (Join) Name() string        { return "join" }
func (Part) Name() string        { return "part" }
func (Members) Name() string     { return "members" }
func (Topic) Name() string       { return "topic" }
func (Whoami) Name() string      { return "whoami" }
func (Window) Name() string      { return "win" }
func (Close) Name() string       { return "close" }
func (Help) Name() string        { return "help" }
func (Exit) Name() string        { return "exit" }
func (Say) Name() string         { return "say" }

// definition describes one slash command: its names, its help line, and how
// to turn its arguments into a Command. rest is the raw text after the
// command name with leading whitespace trimmed, for commands that take
// free text.
type definition struct {
	name    string
	aliases []string
	usage   string
	summary string
	parse   func(args []string, rest string) (Command, error)
}

// definitions is the command table in help order.
var definitions []definition

func init() {
	definitions = []definition{
		{name: "cabal", usage: "/cabal add KEY | set KEY | list", summary: "add, switch to, or list cabals", parse: parseCabal},
		{name: "channels", usage: "/channels", summary: "list channels of the active cabal", parse: noArgs(Channels{})},
		{name: "connections", usage: "/connections", summary: "list peer connections of the active cabal", parse: noArgs(Connections{})},
		{name: "connect", usage: "/connect HOST:PORT", summary: "dial a peer for the active cabal", parse: parseConnect},
		{name: "listen", usage: "/listen PORT | HOST:PORT", summary: "accept peers for the active cabal", parse: parseListen},
		{name: "join", aliases: []string{"j"}, usage: "/join CHANNEL", summary: "join a channel and open its window", parse: parseJoin},
		{name: "part", usage: "/part [CHANNEL]", summary: "leave a channel", parse: parsePart},
		{name: "members", usage: "/members [CHANNEL]", summary: "list members of a channel", parse: parseMembers},
		{name: "topic", usage: "/topic [TEXT]", summary: "show or set the active channel's topic", parse: parseTopic},
		{name: "nick", usage: "/nick NAME", summary: "set your nickname", parse: parseNick},
		{name: "delete", usage: "/delete nick", summary: "clear your nickname", parse: parseDelete},
		{name: "whoami", usage: "/whoami", summary: "show your identity", parse: noArgs(Whoami{})},
		{name: "win", aliases: []string{"w"}, usage: "/win INDEX | NAME", summary: "switch window by index or fuzzy name", parse: parseWindow},
		{name: "close", usage: "/close [INDEX]", summary: "close a window (not the status window)", parse: parseClose},
		{name: "help", usage: "/help [COMMAND]", summary: "show this list or one command's usage", parse: parseHelp},
		{name: "exit", aliases: []string{"quit", "q"}, usage: "/exit", summary: "disconnect everything and quit", parse: noArgs(Exit{})},
	}
}

// lookup finds a command by name or alias.
func lookup(name string) (definition, bool) {
	for _, candidate := range definitions {
		if candidate.name == name {
			return candidate, true
		}
		for _, alias := range candidate.aliases {
			if alias == name {
				return candidate, true
			}
		}
	}
	return definition{}, false
}

// Parse turns one input line into a Command. Blank lines return
// (nil, nil). Errors are always *Error with KindUnknownCommand or
// KindMalformedArguments.
func Parse(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}
	if strings.HasPrefix(line, "//") {
		return Say{Text: line[1:]}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return Say{Text: line}, nil
	}

	body := line[1:]
	name, rest, _ := strings.Cut(body, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	rest = strings.TrimLeft(rest, " \t")
	if name == "" {
		return nil, UnknownCommand("")
	}

	found, ok := lookup(name)
	if !ok {
		return nil, UnknownCommand(name)
	}
	return found.parse(strings.Fields(rest), rest)
}

func noArgs(command Command) func([]string, string) (Command, error) {
	return func(args []string, _ string) (Command, error) {
		if len(args) != 0 {
			found, _ := lookup(command.Name())
			return nil, Malformed(found.usage, "/%s takes no arguments", command.Name())
		}
		return command, nil
	}
}

func parseCabal(args []string, _ string) (Command, error) {
	const usage = "/cabal add KEY | set KEY | list"
	if len(args) == 0 {
		return nil, Malformed(usage, "missing subcommand")
	}
	switch strings.ToLower(args[0]) {
	case "list":
		if len(args) != 1 {
			return nil, Malformed(usage, "/cabal list takes no arguments")
		}
		return CabalList{}, nil
	case "add", "set":
		if len(args) != 2 {
			return nil, Malformed(usage, "/cabal %s needs exactly one key", args[0])
		}
		key, err := ref.ParseCabalKey(args[1])
		if err != nil {
			return nil, Malformed(usage, "%v", err)
		}
		if strings.EqualFold(args[0], "add") {
			return CabalAdd{Key: key}, nil
		}
		return CabalSet{Key: key}, nil
	default:
		return nil, Malformed(usage, "unknown subcommand %q", args[0])
	}
}

func parseConnect(args []string, _ string) (Command, error) {
	const usage = "/connect HOST:PORT"
	if len(args) != 1 {
		return nil, Malformed(usage, "need exactly one address")
	}
	host, port, err := net.SplitHostPort(args[0])
	if err != nil {
		return nil, Malformed(usage, "invalid address %q", args[0])
	}
	if host == "" {
		return nil, Malformed(usage, "missing host in %q", args[0])
	}
	if err := validatePort(port); err != nil {
		return nil, Malformed(usage, "%v", err)
	}
	return Connect{Address: args[0]}, nil
}

func parseListen(args []string, _ string) (Command, error) {
	const usage = "/listen PORT | HOST:PORT"
	if len(args) != 1 {
		return nil, Malformed(usage, "need exactly one port or address")
	}
	if !strings.Contains(args[0], ":") {
		if err := validatePort(args[0]); err != nil {
			return nil, Malformed(usage, "%v", err)
		}
		return Listen{Address: net.JoinHostPort("0.0.0.0", args[0])}, nil
	}
	_, port, err := net.SplitHostPort(args[0])
	if err != nil {
		return nil, Malformed(usage, "invalid address %q", args[0])
	}
	if err := validatePort(port); err != nil {
		return nil, Malformed(usage, "%v", err)
	}
	return Listen{Address: args[0]}, nil
}

func validatePort(raw string) error {
	if _, err := strconv.ParseUint(raw, 10, 16); err != nil {
		return fmt.Errorf("invalid port %q", raw)
	}
	return nil
}

func parseChannelArg(usage string, args []string) (string, error) {
	if err := protocol.ValidateChannel(args[0]); err != nil {
		return "", Malformed(usage, "%v", err)
	}
	return args[0], nil
}

func parseJoin(args []string, _ string) (Command, error) {
	const usage = "/join CHANNEL"
	if len(args) != 1 {
		return nil, Malformed(usage, "need exactly one channel")
	}
	channel, err := parseChannelArg(usage, args)
	if err != nil {
		return nil, err
	}
	return Join{Channel: channel}, nil
}

func parsePart(args []string, _ string) (Command, error) {
	const usage = "/part [CHANNEL]"
	switch len(args) {
	case 0:
		return Part{}, nil
	case 1:
		channel, err := parseChannelArg(usage, args)
		if err != nil {
			return nil, err
		}
		return Part{Channel: channel}, nil
	default:
		return nil, Malformed(usage, "too many arguments")
	}
}

func parseMembers(args []string, _ string) (Command, error) {
	const usage = "/members [CHANNEL]"
	switch len(args) {
	case 0:
		return Members{}, nil
	case 1:
		channel, err := parseChannelArg(usage, args)
		if err != nil {
			return nil, err
		}
		return Members{Channel: channel}, nil
	default:
		return nil, Malformed(usage, "too many arguments")
	}
}

func parseTopic(_ []string, rest string) (Command, error) {
	text := strings.TrimSpace(rest)
	if len(text) > protocol.MaxBodySize {
		return nil, Malformed("/topic [TEXT]", "topic longer than %d bytes", protocol.MaxBodySize)
	}
	return Topic{Text: text}, nil
}

func parseNick(args []string, _ string) (Command, error) {
	const usage = "/nick NAME"
	if len(args) != 1 {
		return nil, Malformed(usage, "nicknames are one word")
	}
	if len(args[0]) > protocol.MaxChannelLength {
		return nil, Malformed(usage, "nickname longer than %d bytes", protocol.MaxChannelLength)
	}
	return Nick{Nickname: args[0]}, nil
}

func parseDelete(args []string, _ string) (Command, error) {
	const usage = "/delete nick"
	if len(args) != 1 || !strings.EqualFold(args[0], "nick") {
		return nil, Malformed(usage, "only \"nick\" can be deleted")
	}
	return DeleteNick{}, nil
}

func parseWindow(args []string, rest string) (Command, error) {
	const usage = "/win INDEX | NAME"
	if len(args) == 0 {
		return nil, Malformed(usage, "missing window index or name")
	}
	if len(args) == 1 {
		if index, err := strconv.Atoi(args[0]); err == nil {
			if index < 0 {
				return nil, Malformed(usage, "window index %d is negative", index)
			}
			return Window{Index: index}, nil
		}
	}
	return Window{Query: strings.TrimSpace(rest)}, nil
}

func parseClose(args []string, _ string) (Command, error) {
	const usage = "/close [INDEX]"
	switch len(args) {
	case 0:
		return Close{}, nil
	case 1:
		index, err := strconv.Atoi(args[0])
		if err != nil || index < 0 {
			return nil, Malformed(usage, "invalid window index %q", args[0])
		}
		return Close{Index: index, HasIndex: true}, nil
	default:
		return nil, Malformed(usage, "too many arguments")
	}
}

func parseHelp(args []string, _ string) (Command, error) {
	switch len(args) {
	case 0:
		return Help{}, nil
	case 1:
		return Help{Topic: strings.TrimPrefix(strings.ToLower(args[0]), "/")}, nil
	default:
		return nil, Malformed("/help [COMMAND]", "too many arguments")
	}
}
