// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gosuri/uitable"

	"github.com/cabin-chat/cabin/command"
	"github.com/cabin-chat/cabin/lib/netutil"
	"github.com/cabin-chat/cabin/lib/ref"
	"github.com/cabin-chat/cabin/protocol"
)

// dispatch applies one parsed command. Every returned error is
// user-scoped and leaves state unchanged.
func (o *Orchestrator) dispatch(parsed command.Command) error {
	switch parsed := parsed.(type) {
	case command.CabalAdd:
		return o.cabalAdd(parsed.Key)
	case command.CabalSet:
		return o.cabalSet(parsed.Key)
	case command.CabalList:
		return o.cabalList()
	case command.Channels:
		return o.listChannels()
	case command.Connections:
		return o.listConnections()
	case command.Connect:
		return o.connect(parsed.Address)
	case command.Listen:
		return o.listen(parsed.Address)
	case command.Nick:
		return o.setNick(parsed.Nickname)
	case command.DeleteNick:
		return o.setNick("")
	case command.Join:
		return o.join(parsed.Channel)
	case command.Part:
		return o.part(parsed.Channel)
	case command.Members:
		return o.members(parsed.Channel)
	case command.Topic:
		return o.topic(parsed.Text)
	case command.Whoami:
		return o.whoami()
	case command.Window:
		return o.switchWindow(parsed)
	case command.Close:
		return o.closeWindow(parsed)
	case command.Help:
		return o.help(parsed.Topic)
	case command.Exit:
		o.beginShutdown("exit command")
		return nil
	case command.Say:
		return o.say(parsed.Text)
	default:
		return &InvariantViolation{Op: "dispatch", Detail: fmt.Sprintf("unhandled command %T", parsed)}
	}
}

func (o *Orchestrator) cabalAdd(key ref.CabalKey) error {
	cabal, err := o.cabals.Add(key, o.config.Engines)
	if err != nil {
		return err
	}
	o.logger.Info("cabal added", "cabal", key.Short())
	o.statusf("added cabal %s, now active", key.Short())
	if o.nick != "" {
		o.applyResult(cabal, cabal.Engine.SetNick(o.nick))
	}
	return nil
}

func (o *Orchestrator) cabalSet(key ref.CabalKey) error {
	if err := o.cabals.SetActive(key); err != nil {
		return err
	}
	o.statusf("active cabal is now %s", key.Short())
	return nil
}

func (o *Orchestrator) cabalList() error {
	cabals := o.cabals.List()
	if len(cabals) == 0 {
		o.statusf("no cabals. add one with /cabal add KEY")
		return nil
	}
	table := newTable("", "CABAL", "CHANNELS", "PEERS", "LISTENING")
	for _, cabal := range cabals {
		marker := ""
		if cabal == o.cabals.Active() {
			marker = "*"
		}
		var addresses []string
		for _, listener := range o.sortedListeners() {
			if listener.Cabal == cabal.Key {
				addresses = append(addresses, listener.Address())
			}
		}
		table.AddRow(marker, cabal.Key.String(), len(cabal.order), cabal.Registry.Len(), strings.Join(addresses, " "))
	}
	o.statusTable(table)
	return nil
}

func (o *Orchestrator) listChannels() error {
	cabal, err := o.cabals.RequireActive()
	if err != nil {
		return err
	}
	channels := cabal.Channels()
	if len(channels) == 0 {
		o.statusf("no channels in cabal %s yet. /join one", cabal.Key.Short())
		return nil
	}
	table := newTable("CHANNEL", "JOINED", "MEMBERS", "TOPIC")
	for _, channel := range channels {
		joined := ""
		if channel.Joined {
			joined = "yes"
		}
		table.AddRow("#"+channel.Name, joined, len(channel.members), channel.Topic)
	}
	o.statusTable(table)
	return nil
}

func (o *Orchestrator) listConnections() error {
	cabal, err := o.cabals.RequireActive()
	if err != nil {
		return err
	}
	table := newTable("ID", "DIRECTION", "STATE", "REMOTE", "PEER")
	rows := 0
	for _, entry := range o.sortedConnections() {
		if entry.cabal != cabal.Key {
			continue
		}
		peer := "-"
		if !entry.peer.IsZero() {
			peer = peerName(cabal, entry.peer)
		}
		table.AddRow(uint64(entry.id), entry.direction, entry.state, entry.remote, peer)
		rows++
	}
	if rows == 0 {
		o.statusf("no connections in cabal %s", cabal.Key.Short())
		return nil
	}
	o.statusTable(table)
	return nil
}

func (o *Orchestrator) connect(address string) error {
	cabal, err := o.cabals.RequireActive()
	if err != nil {
		return err
	}
	entry := o.openConnection(cabal.Key, Outbound, address, nil)
	o.statusf("connecting to %s for cabal %s (connection %d)", address, cabal.Key.Short(), entry.id)
	return nil
}

func (o *Orchestrator) listen(address string) error {
	cabal, err := o.cabals.RequireActive()
	if err != nil {
		return err
	}
	bound, err := o.config.Listen(o.ctx, address)
	if err != nil {
		transportErr := &TransportError{Op: "listen", Address: address, Err: err}
		o.logger.Warn("bind failed", "address", address, "error", err)
		if netutil.IsAddressInUse(err) {
			return command.Failed(transportErr, "can't listen (address in use)")
		}
		return command.Failed(transportErr, "can't listen")
	}
	o.nextListener++
	listener := newListener(o.nextListener, cabal.Key, bound, o.bus)
	o.listeners[listener.ID] = listener
	listener.start()
	o.logger.Info("listening", "address", listener.Address(), "cabal", cabal.Key.Short(), "listener", uint64(listener.ID))
	o.statusf("listening on %s for cabal %s", listener.Address(), cabal.Key.Short())
	return nil
}

func (o *Orchestrator) setNick(nick string) error {
	o.nick = nick
	for _, cabal := range o.cabals.List() {
		o.applyResult(cabal, cabal.Engine.SetNick(nick))
	}
	o.dirty = true
	if nick == "" {
		o.statusf("nickname cleared")
		return nil
	}
	o.statusf("you are now known as %s", nick)
	return nil
}

func (o *Orchestrator) join(name string) error {
	cabal, err := o.cabals.RequireActive()
	if err != nil {
		return err
	}
	result, err := cabal.Engine.JoinChannel(name)
	if err != nil {
		return engineError(err, name, "join #"+name)
	}
	channel := cabal.ensureChannel(name)
	channel.Joined = true
	window := o.windows.Open(cabal.Key, name)
	if err := o.focus(window.Index); err != nil {
		return err
	}
	o.logger.Info("joined channel", "cabal", cabal.Key.Short(), "channel", name, "window", window.Index)
	o.applyResult(cabal, result)
	return nil
}

// channelTarget resolves an optional channel argument: an explicit name
// refers to the active cabal, an omitted one to the focused window.
func (o *Orchestrator) channelTarget(name, action string) (*Cabal, string, error) {
	if name == "" {
		window := o.windows.Active()
		if window.IsStatus() {
			return nil, "", command.NoActiveChannel(action)
		}
		cabal := o.cabals.Get(window.Cabal)
		if cabal == nil {
			return nil, "", command.UnknownCabal(window.Cabal.Short())
		}
		return cabal, window.Channel, nil
	}
	cabal, err := o.cabals.RequireActive()
	if err != nil {
		return nil, "", err
	}
	return cabal, name, nil
}

func (o *Orchestrator) part(name string) error {
	cabal, name, err := o.channelTarget(name, "part")
	if err != nil {
		return err
	}
	channel := cabal.Channel(name)
	if channel == nil || !channel.Joined {
		return command.NotJoined(name)
	}
	result, err := cabal.Engine.LeaveChannel(name)
	if err != nil {
		return engineError(err, name, "part #"+name)
	}
	channel.Joined = false
	o.applyResult(cabal, result)
	o.touchChannel(cabal, name)
	o.statusf("left #%s", name)
	return nil
}

func (o *Orchestrator) members(name string) error {
	cabal, name, err := o.channelTarget(name, "list members")
	if err != nil {
		return err
	}
	channel := cabal.Channel(name)
	if channel == nil {
		return command.UnknownChannel(name)
	}
	members := channel.Members()
	if len(members) == 0 {
		o.statusf("#%s has no known members", name)
		return nil
	}
	names := make([]string, 0, len(members))
	for _, peer := range members {
		names = append(names, peerName(cabal, peer))
	}
	o.statusf("members of #%s (%d): %s", name, len(names), strings.Join(names, ", "))
	return nil
}

func (o *Orchestrator) topic(text string) error {
	cabal, name, err := o.channelTarget("", "show or set a topic")
	if err != nil {
		return err
	}
	channel := cabal.Channel(name)
	if text == "" {
		if channel == nil || channel.Topic == "" {
			o.statusf("no topic set for #%s", name)
			return nil
		}
		o.statusf("topic for #%s: %s", name, channel.Topic)
		return nil
	}
	result, err := cabal.Engine.SetTopic(name, text)
	if err != nil {
		return engineError(err, name, "set the topic of #"+name)
	}
	o.applyResult(cabal, result)
	return nil
}

func (o *Orchestrator) whoami() error {
	if o.nick == "" {
		o.statusf("you are %s (no nickname; set one with /nick NAME)", o.self)
		return nil
	}
	o.statusf("you are %s (%s)", o.self, o.nick)
	return nil
}

func (o *Orchestrator) switchWindow(target command.Window) error {
	if target.Query != "" {
		window, err := o.windows.Match(target.Query)
		if err != nil {
			return err
		}
		return o.focus(window.Index)
	}
	return o.focus(target.Index)
}

// focus switches windows. Focusing a channel window also makes its
// cabal the active one, so implicit-cabal commands follow the view.
func (o *Orchestrator) focus(index int) error {
	if err := o.windows.Switch(index); err != nil {
		return err
	}
	window := o.windows.Active()
	if !window.IsStatus() {
		if err := o.cabals.SetActive(window.Cabal); err != nil {
			return err
		}
	}
	o.invalidate(index)
	return nil
}

func (o *Orchestrator) closeWindow(target command.Close) error {
	index := target.Index
	if !target.HasIndex {
		index = o.windows.Active().Index
	}
	wasActive := index == o.windows.Active().Index
	if err := o.windows.Close(index); err != nil {
		return err
	}
	o.dirty = true
	if wasActive {
		return o.focus(o.windows.Active().Index)
	}
	return nil
}

func (o *Orchestrator) help(topic string) error {
	lines, err := command.HelpLines(topic)
	if err != nil {
		return err
	}
	for _, line := range lines {
		o.statusf("%s", strings.TrimRight(line, " "))
	}
	return nil
}

func (o *Orchestrator) say(text string) error {
	window := o.windows.Active()
	if window.IsStatus() {
		return command.NoActiveChannel("post text")
	}
	cabal := o.cabals.Get(window.Cabal)
	if cabal == nil {
		return command.UnknownCabal(window.Cabal.Short())
	}
	result, err := cabal.Engine.Post(window.Channel, text)
	if err != nil {
		return engineError(err, window.Channel, "post to #"+window.Channel)
	}
	o.applyResult(cabal, result)
	return nil
}

// engineError maps engine failures onto user-scoped command errors.
func engineError(err error, channel, action string) error {
	switch {
	case errors.Is(err, protocol.ErrNotJoined):
		return command.NotJoined(channel)
	case errors.Is(err, protocol.ErrInvalidChannel), errors.Is(err, protocol.ErrBodyTooLarge):
		return &command.Error{Kind: command.KindMalformedArguments, Err: fmt.Errorf("can't %s: %w", action, err)}
	default:
		return command.Failed(err, "can't %s", action)
	}
}

func newTable(headers ...any) *uitable.Table {
	table := uitable.New()
	table.Separator = "  "
	table.MaxColWidth = 64
	table.AddRow(headers...)
	return table
}

func (o *Orchestrator) statusTable(table *uitable.Table) {
	for _, line := range strings.Split(table.String(), "\n") {
		o.statusf("%s", strings.TrimRight(line, " "))
	}
}
