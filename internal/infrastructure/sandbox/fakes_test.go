package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/execution"
	"github.com/guildhook/guildhook/internal/domain/platform"
)

type platformCall struct {
	Op     string
	Target string
	Msg    platform.OutgoingMessage
}

type fakePlatform struct {
	mu    sync.Mutex
	calls []platformCall
	err   error
	panic bool
	delay time.Duration
}

func (f *fakePlatform) record(op, target string, msg platform.OutgoingMessage) error {
	if f.panic {
		panic("platform exploded")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, platformCall{Op: op, Target: target, Msg: msg})
	return f.err
}

func (f *fakePlatform) Calls() []platformCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platformCall(nil), f.calls...)
}

func (f *fakePlatform) GetGuild(_ context.Context, guildID string) (*platform.Guild, error) {
	return &platform.Guild{ID: guildID}, nil
}

func (f *fakePlatform) SendMessage(_ context.Context, channelID string, msg platform.OutgoingMessage) (string, error) {
	if err := f.record("send", channelID, msg); err != nil {
		return "", err
	}
	return "m-new", nil
}

func (f *fakePlatform) EditMessage(_ context.Context, channelID, messageID string, msg platform.OutgoingMessage) error {
	return f.record("edit", channelID+"/"+messageID, msg)
}

func (f *fakePlatform) DeleteMessage(_ context.Context, channelID, messageID string) error {
	return f.record("delete", channelID+"/"+messageID, platform.OutgoingMessage{})
}

func (f *fakePlatform) AddRole(_ context.Context, guildID, userID, roleID, _ string) error {
	return f.record("add_role", guildID+"/"+userID+"/"+roleID, platform.OutgoingMessage{})
}

func (f *fakePlatform) RemoveRole(_ context.Context, guildID, userID, roleID, _ string) error {
	return f.record("remove_role", guildID+"/"+userID+"/"+roleID, platform.OutgoingMessage{})
}

func (f *fakePlatform) KickMember(_ context.Context, guildID, userID, _ string) error {
	return f.record("kick", guildID+"/"+userID, platform.OutgoingMessage{})
}

func (f *fakePlatform) BanMember(_ context.Context, guildID, userID, _ string, _ int) error {
	return f.record("ban", guildID+"/"+userID, platform.OutgoingMessage{})
}

func (f *fakePlatform) TimeoutMember(_ context.Context, guildID, userID string, _ time.Time, _ string) error {
	return f.record("timeout", guildID+"/"+userID, platform.OutgoingMessage{})
}

func (f *fakePlatform) SetChannelTopic(_ context.Context, channelID, topic string) error {
	return f.record("topic", channelID, platform.OutgoingMessage{Content: topic})
}

func (f *fakePlatform) SetChannelSlowmode(_ context.Context, channelID string, seconds int) error {
	return f.record("slowmode", channelID, platform.OutgoingMessage{Content: fmt.Sprint(seconds)})
}

func (f *fakePlatform) ReplyInteraction(_ context.Context, interactionID, token string, msg platform.OutgoingMessage) error {
	return f.record("interaction_reply", interactionID+"/"+token, msg)
}

func (f *fakePlatform) DeferInteraction(_ context.Context, interactionID, token string, _ bool) error {
	return f.record("interaction_defer", interactionID+"/"+token, platform.OutgoingMessage{})
}

var _ ports.Platform = (*fakePlatform)(nil)

// fakeDocuments holds committed state per tenant.
type fakeDocuments struct {
	mu      sync.Mutex
	tenants map[string]map[string]any
	store   map[string]any
	points  map[string]int64
	err     error
	applied int
}

func newFakeDocuments() *fakeDocuments {
	return &fakeDocuments{
		tenants: map[string]map[string]any{},
		store:   map[string]any{},
		points:  map[string]int64{},
	}
}

func (d *fakeDocuments) GetTenant(_ context.Context, tenantID string) (map[string]any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.tenants[tenantID], nil
}

func (d *fakeDocuments) GetStoreValue(_ context.Context, tenantID, extensionID, key string) (any, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, false, d.err
	}
	v, ok := d.store[tenantID+"/"+extensionID+"/"+key]
	return v, ok, nil
}

func (d *fakeDocuments) PointsBalance(_ context.Context, tenantID, userID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return 0, d.err
	}
	return d.points[tenantID+"/"+userID], nil
}

func (d *fakeDocuments) ApplyMutations(context.Context, string, string, string, []execution.Mutation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applied++
	return errors.New("sandbox must never commit")
}

var _ ports.DocumentStore = (*fakeDocuments)(nil)
