// Package platformtest provides an in-memory platform.Platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"

	"github.com/BadHairlines/DayZ-Manager-sub000/internal/platform"
)

// Message is a message held by the fake
type Message struct {
	ID         string
	ChannelID  string
	Content    string
	Embed      *discordgo.MessageEmbed
	Components []discordgo.MessageComponent
	Edits      int
	Pinned     bool

	// Pings holds the role and user ids the message was allowed to notify
	Pings []string
}

// Platform is a goroutine-safe fake. Guilds must be added with AddGuild
// before channels or roles can be created in them.
type Platform struct {
	mu        sync.Mutex
	node      *snowflake.Node
	self      string
	guilds    map[string]bool
	channels  map[string]*platform.Channel
	messages  map[string]*Message
	roles     map[string]*platform.Role
	holders   map[string]map[string]bool // roleID -> userIDs
	reactions map[string]map[string][]string
	failures  map[string][]error
	calls     map[string]int
}

// New returns an empty fake
func New() *Platform {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	p := &Platform{
		node:      node,
		guilds:    make(map[string]bool),
		channels:  make(map[string]*platform.Channel),
		messages:  make(map[string]*Message),
		roles:     make(map[string]*platform.Role),
		holders:   make(map[string]map[string]bool),
		reactions: make(map[string]map[string][]string),
		failures:  make(map[string][]error),
		calls:     make(map[string]int),
	}
	p.self = p.NewID()
	return p
}

// NewID returns a fresh snowflake id
func (p *Platform) NewID() string {
	return p.node.Generate().String()
}

// AddGuild registers a guild and returns its id
func (p *Platform) AddGuild() string {
	id := p.NewID()
	p.mu.Lock()
	p.guilds[id] = true
	p.mu.Unlock()
	return id
}

// AddRole creates a role directly, as an admin would by hand
func (p *Platform) AddRole(guildID, name string) *platform.Role {
	r, err := p.CreateRole(context.Background(), guildID, name, 0)
	if err != nil {
		panic(err)
	}
	return r
}

// AddChannel creates a text channel directly
func (p *Platform) AddChannel(guildID, name, parentID string) *platform.Channel {
	c, err := p.CreateChannel(context.Background(), guildID, platform.ChannelSpec{Name: name, ParentID: parentID})
	if err != nil {
		panic(err)
	}
	return c
}

// FailNext makes the next call to op return err. Calls queue up.
func (p *Platform) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], err)
}

// Calls reports how many times op was invoked
func (p *Platform) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// call records op and pops an injected failure. Caller holds mu.
func (p *Platform) call(op string) error {
	p.calls[op]++
	if q := p.failures[op]; len(q) > 0 {
		p.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

// Message returns a copy of a stored message, or nil
func (p *Platform) Message(id string) *Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.messages[id]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Messages returns the messages in a channel in creation order
func (p *Platform) Messages(channelID string) []*Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Message
	for _, m := range p.messages {
		if m.ChannelID == channelID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out
}

// ChannelByName finds a channel by name in a guild, or nil
func (p *Platform) ChannelByName(guildID, name string) *platform.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.channels {
		if c.GuildID == guildID && c.Name == name {
			cp := *c
			return &cp
		}
	}
	return nil
}

// HasChannel reports whether a channel exists
func (p *Platform) HasChannel(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[id]
	return ok
}

// HasRole reports whether a role exists
func (p *Platform) HasRole(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.roles[id]
	return ok
}

// Holds reports whether userID holds roleID
func (p *Platform) Holds(userID, roleID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holders[roleID][userID]
}

// DropMessage deletes a message behind the system's back
func (p *Platform) DropMessage(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.messages, id)
}

// DropChannel deletes a channel and its messages behind the system's back
func (p *Platform) DropChannel(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, id)
	for mid, m := range p.messages {
		if m.ChannelID == id {
			delete(p.messages, mid)
		}
	}
}

// React adds a reaction from userID
func (p *Platform) React(messageID, emoji, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reactions[messageID] == nil {
		p.reactions[messageID] = make(map[string][]string)
	}
	p.reactions[messageID][emoji] = append(p.reactions[messageID][emoji], userID)
}

func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// ─── platform.Platform ──────────────────────────────────────────────────────

func (p *Platform) SelfID() string { return p.self }

func (p *Platform) GuildExists(_ context.Context, guildID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("GuildExists"); err != nil {
		return false, err
	}
	return p.guilds[guildID], nil
}

func (p *Platform) Channel(_ context.Context, channelID string) (*platform.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("Channel"); err != nil {
		return nil, err
	}
	c, ok := p.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("%w: channel %s", platform.ErrNotFound, channelID)
	}
	cp := *c
	return &cp, nil
}

func (p *Platform) GuildChannels(_ context.Context, guildID string) ([]*platform.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("GuildChannels"); err != nil {
		return nil, err
	}
	if !p.guilds[guildID] {
		return nil, fmt.Errorf("%w: guild %s", platform.ErrNotFound, guildID)
	}
	var out []*platform.Channel
	for _, c := range p.channels {
		if c.GuildID == guildID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (p *Platform) CreateChannel(_ context.Context, guildID string, spec platform.ChannelSpec) (*platform.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("CreateChannel"); err != nil {
		return nil, err
	}
	if !p.guilds[guildID] {
		return nil, fmt.Errorf("%w: guild %s", platform.ErrNotFound, guildID)
	}
	c := &platform.Channel{ID: p.NewID(), GuildID: guildID, Name: spec.Name, ParentID: spec.ParentID, Kind: spec.Kind}
	p.channels[c.ID] = c
	cp := *c
	return &cp, nil
}

func (p *Platform) DeleteChannel(_ context.Context, channelID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("DeleteChannel"); err != nil {
		return err
	}
	if _, ok := p.channels[channelID]; !ok {
		return fmt.Errorf("%w: channel %s", platform.ErrNotFound, channelID)
	}
	delete(p.channels, channelID)
	return nil
}

func (p *Platform) SendMessage(_ context.Context, channelID string, msg *platform.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("SendMessage"); err != nil {
		return "", err
	}
	if _, ok := p.channels[channelID]; !ok {
		return "", fmt.Errorf("%w: channel %s", platform.ErrNotFound, channelID)
	}
	m := &Message{ID: p.NewID(), ChannelID: channelID, Content: msg.Content, Embed: msg.Embed, Components: msg.Components}
	m.Pings = append(append(m.Pings, msg.MentionRoles...), msg.MentionUsers...)
	p.messages[m.ID] = m
	return m.ID, nil
}

func (p *Platform) EditMessage(_ context.Context, channelID, messageID string, msg *platform.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("EditMessage"); err != nil {
		return err
	}
	m, ok := p.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return fmt.Errorf("%w: message %s", platform.ErrNotFound, messageID)
	}
	if msg.Content != "" {
		m.Content = msg.Content
	}
	if msg.Embed != nil {
		m.Embed = msg.Embed
	}
	if msg.Components != nil {
		m.Components = msg.Components
	}
	m.Edits++
	return nil
}

func (p *Platform) FetchMessage(_ context.Context, channelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("FetchMessage"); err != nil {
		return err
	}
	m, ok := p.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return fmt.Errorf("%w: message %s", platform.ErrNotFound, messageID)
	}
	return nil
}

func (p *Platform) PinMessage(_ context.Context, channelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("PinMessage"); err != nil {
		return err
	}
	m, ok := p.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return fmt.Errorf("%w: message %s", platform.ErrNotFound, messageID)
	}
	m.Pinned = true
	return nil
}

func (p *Platform) Role(_ context.Context, guildID, roleID string) (*platform.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("Role"); err != nil {
		return nil, err
	}
	r, ok := p.roles[roleID]
	if !ok || r.GuildID != guildID {
		return nil, fmt.Errorf("%w: role %s", platform.ErrNotFound, roleID)
	}
	cp := *r
	return &cp, nil
}

func (p *Platform) GuildRoles(_ context.Context, guildID string) ([]*platform.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("GuildRoles"); err != nil {
		return nil, err
	}
	var out []*platform.Role
	for _, r := range p.roles {
		if r.GuildID == guildID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return idLess(out[i].ID, out[j].ID) })
	return out, nil
}

func (p *Platform) CreateRole(_ context.Context, guildID, name string, color int) (*platform.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("CreateRole"); err != nil {
		return nil, err
	}
	if !p.guilds[guildID] {
		return nil, fmt.Errorf("%w: guild %s", platform.ErrNotFound, guildID)
	}
	r := &platform.Role{ID: p.NewID(), GuildID: guildID, Name: name, Color: color}
	p.roles[r.ID] = r
	cp := *r
	return &cp, nil
}

func (p *Platform) DeleteRole(_ context.Context, guildID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("DeleteRole"); err != nil {
		return err
	}
	r, ok := p.roles[roleID]
	if !ok || r.GuildID != guildID {
		return fmt.Errorf("%w: role %s", platform.ErrNotFound, roleID)
	}
	delete(p.roles, roleID)
	delete(p.holders, roleID)
	return nil
}

func (p *Platform) AddMemberRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("AddMemberRole"); err != nil {
		return err
	}
	if _, ok := p.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", platform.ErrNotFound, roleID)
	}
	if p.holders[roleID] == nil {
		p.holders[roleID] = make(map[string]bool)
	}
	p.holders[roleID][userID] = true
	return nil
}

func (p *Platform) RemoveMemberRole(_ context.Context, guildID, userID, roleID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("RemoveMemberRole"); err != nil {
		return err
	}
	delete(p.holders[roleID], userID)
	return nil
}

func (p *Platform) RoleMembers(_ context.Context, guildID, roleID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("RoleMembers"); err != nil {
		return nil, err
	}
	var ids []string
	for id := range p.holders[roleID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return idLess(ids[i], ids[j]) })
	return ids, nil
}

func (p *Platform) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("AddReaction"); err != nil {
		return err
	}
	if p.reactions[messageID] == nil {
		p.reactions[messageID] = make(map[string][]string)
	}
	p.reactions[messageID][emoji] = append(p.reactions[messageID][emoji], p.self)
	return nil
}

func (p *Platform) Reactors(_ context.Context, channelID, messageID, emoji string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("Reactors"); err != nil {
		return nil, err
	}
	if _, ok := p.messages[messageID]; !ok {
		return nil, fmt.Errorf("%w: message %s", platform.ErrNotFound, messageID)
	}
	return append([]string(nil), p.reactions[messageID][strings.TrimSpace(emoji)]...), nil
}

var _ platform.Platform = (*Platform)(nil)
