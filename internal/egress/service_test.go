package egress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sdr-gateway/internal/broker"
	"github.com/nerrad567/sdr-gateway/internal/codec"
	"github.com/nerrad567/sdr-gateway/internal/dispatch"
	"github.com/nerrad567/sdr-gateway/internal/protocol"
	"github.com/nerrad567/sdr-gateway/internal/store"
)

type fakeRepo struct {
	modules map[string][]string
	allocs  []store.RuleAllocation
	rules   []protocol.DeviceRule
	err     error
}

func (r *fakeRepo) ModulesByUnit(_ context.Context, unitID string) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.modules[unitID], nil
}

func (r *fakeRepo) RuleAllocations(_ context.Context, moduleIDs []string) ([]store.RuleAllocation, error) {
	var out []store.RuleAllocation
	for _, a := range r.allocs {
		for _, m := range moduleIDs {
			if a.ModuleID == m {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) RulesByID(_ context.Context, ids []int64) ([]protocol.DeviceRule, error) {
	var out []protocol.DeviceRule
	for _, rule := range r.rules {
		for _, id := range ids {
			if rule.ID == id {
				out = append(out, rule)
			}
		}
	}
	return out, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	status   broker.Status
	err      error
	messages []broker.Message
	sent     chan broker.Message
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{status: broker.StatusDelivered, sent: make(chan broker.Message, 10)}
}

func (p *fakePublisher) Publish(_ context.Context, msg broker.Message) (broker.Status, error) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
	p.sent <- msg
	if p.err != nil {
		return 0, p.err
	}
	return p.status, nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func seededRepo() *fakeRepo {
	return &fakeRepo{
		modules: map[string][]string{
			"u1": {"m1", "m2"},
			"u2": {"m3"},
		},
		allocs: []store.RuleAllocation{
			{ModuleID: "m1", RuleID: 10},
			{ModuleID: "m1", RuleID: 11},
		},
		rules: []protocol.DeviceRule{
			{ID: 10, Priority: 1, Expression: "power > 100", Command: "off"},
			{ID: 11, Priority: 2, Expression: "time > 22:00", Command: "off"},
		},
	}
}

func newService(t *testing.T, repo Repository, pub broker.Publisher) *Service {
	t.Helper()
	svc := New(repo, pub, Config{QoS: 1, Timeout: 2 * time.Second})
	pool, err := dispatch.New(codec.New(), dispatch.Config{Workers: 2, QueueSize: 10}, dispatch.Callbacks{
		OnCompressed:   svc.HandleCompressed,
		OnDecompressed: func(dispatch.Result) {},
	})
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { _ = pool.Stop(time.Second) })
	svc.SetDispatcher(pool)
	return svc
}

func decodePublished(t *testing.T, msg broker.Message) protocol.Body {
	t.Helper()
	env, err := codec.ParseEnvelope(msg.Payload)
	require.NoError(t, err)
	raw, err := codec.New().Decode(env)
	require.NoError(t, err)
	body, err := protocol.DecodeEgress(raw)
	require.NoError(t, err)
	return body
}

func TestRuleSnapshot(t *testing.T) {
	svc := New(seededRepo(), newFakePublisher(), Config{})

	set, err := svc.RuleSnapshot(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, protocol.ActionReplace, set.Action)
	require.Len(t, set.Rules, 2)
	assert.Equal(t, "m1", set.Rules[0].ModuleID)
	assert.Equal(t, protocol.ActionReplace, set.Rules[0].Action)
	require.Len(t, set.Rules[0].Rules, 2)
	assert.Equal(t, int64(10), set.Rules[0].Rules[0].ID)

	// m2 has no allocations; an empty list clears its rules.
	assert.Equal(t, "m2", set.Rules[1].ModuleID)
	assert.NotNil(t, set.Rules[1].Rules)
	assert.Empty(t, set.Rules[1].Rules)
}

func TestRuleSnapshot_MissingRuleSkipped(t *testing.T) {
	repo := seededRepo()
	repo.allocs = append(repo.allocs, store.RuleAllocation{ModuleID: "m2", RuleID: 99})
	svc := New(repo, newFakePublisher(), Config{})

	set, err := svc.RuleSnapshot(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, set.Rules[0].Rules, 2)
	assert.Empty(t, set.Rules[1].Rules)
}

func TestRuleSnapshot_AllRulesMissing(t *testing.T) {
	repo := seededRepo()
	repo.rules = nil
	pub := newFakePublisher()
	svc := newService(t, repo, pub)

	_, err := svc.RuleSnapshot(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNoRulesConfigured)

	_, err = svc.SyncRules(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNoRulesConfigured)
	assert.Zero(t, pub.count(), "no empty replace is sent")
}

func TestSyncRules_Errors(t *testing.T) {
	boom := errors.New("db down")

	tests := []struct {
		name    string
		repo    *fakeRepo
		unit    string
		wantErr error
	}{
		{name: "unknown unit", repo: seededRepo(), unit: "nope", wantErr: ErrNoData},
		{name: "no allocations", repo: seededRepo(), unit: "u2", wantErr: ErrNoRulesConfigured},
		{name: "repository failure", repo: &fakeRepo{err: boom}, unit: "u1", wantErr: boom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := newFakePublisher()
			svc := newService(t, tt.repo, pub)

			_, err := svc.SyncRules(context.Background(), tt.unit)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, pub.count())
		})
	}
}

func TestSyncRules_PublishesCompressedSnapshot(t *testing.T) {
	pub := newFakePublisher()
	svc := newService(t, seededRepo(), pub)

	status, err := svc.SyncRules(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, broker.StatusDelivered, status)

	require.Equal(t, 1, pub.count())
	msg := pub.messages[0]
	assert.Equal(t, "egress/u1", msg.Topic)
	assert.Equal(t, byte(1), msg.QoS)

	body := decodePublished(t, msg)
	set, ok := body.(*protocol.RuleSet)
	require.True(t, ok, "got %T", body)
	assert.Equal(t, protocol.ActionReplace, set.Action)
	assert.Len(t, set.Rules, 2)
}

func TestSend_NoSubscribersIsNotAnError(t *testing.T) {
	pub := newFakePublisher()
	pub.status = broker.StatusNoSubscribers
	svc := newService(t, seededRepo(), pub)

	status, err := svc.SendParameters(context.Background(), "u1", protocol.Parameters{
		ReportInterval: 300,
		SamplePeriod:   1000,
	})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusNoSubscribers, status)
}

func TestSend_BadRequest(t *testing.T) {
	pub := newFakePublisher()
	pub.err = broker.ErrBadRequest
	svc := newService(t, seededRepo(), pub)

	_, err := svc.SyncRules(context.Background(), "u1")
	assert.ErrorIs(t, err, broker.ErrBadRequest)
}

func TestSend_InvalidBodyNotPublished(t *testing.T) {
	pub := newFakePublisher()
	svc := newService(t, seededRepo(), pub)

	_, err := svc.SendRules(context.Background(), "u1", protocol.RuleSet{Action: protocol.ActionReplace})
	assert.ErrorIs(t, err, protocol.ErrInvalidMessage)
	assert.Zero(t, pub.count())
}

func TestSend_NoDispatcher(t *testing.T) {
	svc := New(seededRepo(), newFakePublisher(), Config{})

	_, err := svc.SyncRules(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNoDispatcher)

	assert.ErrorIs(t, svc.QueueRuleSync(context.Background(), "u1"), ErrNoDispatcher)
}

func TestQueueRuleSync_PublishedFromCallback(t *testing.T) {
	pub := newFakePublisher()
	svc := newService(t, seededRepo(), pub)

	require.NoError(t, svc.QueueRuleSync(context.Background(), "u1"))

	select {
	case msg := <-pub.sent:
		assert.Equal(t, "egress/u1", msg.Topic)
		_, ok := decodePublished(t, msg).(*protocol.RuleSet)
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("queued rule sync was never published")
	}
}

func TestHandleCompressed_FailedQueuedJobDropped(t *testing.T) {
	pub := newFakePublisher()
	svc := New(seededRepo(), pub, Config{})

	svc.HandleCompressed(dispatch.Result{JobID: "j1", Topic: "egress/u1", Direction: dispatch.Compress, Err: errors.New("encode failed")})
	assert.Zero(t, pub.count())
}
