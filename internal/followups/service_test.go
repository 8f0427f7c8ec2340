package followups

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

type fakeFollowupStore struct {
	rules     []*store.FollowupRule
	sentCount map[uuid.UUID]int
	queued    map[uuid.UUID]bool // by rule id
	scheduled []*store.FollowupItem
}

func (f *fakeFollowupStore) ActiveRules(ctx context.Context, companyID uuid.UUID) ([]*store.FollowupRule, error) {
	return f.rules, nil
}

func (f *fakeFollowupStore) GetRule(ctx context.Context, id uuid.UUID) (*store.FollowupRule, error) {
	for _, r := range f.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeFollowupStore) HasFutureScheduled(ctx context.Context, leadID, ruleID uuid.UUID) (bool, error) {
	return f.queued[ruleID], nil
}

func (f *fakeFollowupStore) CountSentAttempts(ctx context.Context, leadID, ruleID uuid.UUID) (int, error) {
	return f.sentCount[ruleID], nil
}

func (f *fakeFollowupStore) Schedule(ctx context.Context, item *store.FollowupItem) error {
	f.scheduled = append(f.scheduled, item)
	return nil
}

func (f *fakeFollowupStore) ClaimDue(ctx context.Context, limit int) ([]*store.FollowupItem, error) {
	return nil, nil
}
func (f *fakeFollowupStore) MarkSent(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeFollowupStore) MarkFailed(ctx context.Context, id uuid.UUID, r string) error {
	return nil
}
func (f *fakeFollowupStore) CancelPending(ctx context.Context, leadID uuid.UUID) (int, error) {
	return 0, nil
}

type fakeLeadStore struct {
	lifecycle string
}

func (f *fakeLeadStore) GetOrCreate(ctx context.Context, companyID uuid.UUID, phone, name string) (*store.Lead, bool, error) {
	return nil, false, store.ErrNotFound
}
func (f *fakeLeadStore) Get(ctx context.Context, id uuid.UUID) (*store.Lead, error) {
	return nil, store.ErrNotFound
}
func (f *fakeLeadStore) TouchInbound(ctx context.Context, id uuid.UUID) error     { return nil }
func (f *fakeLeadStore) TouchOutboundNew(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeLeadStore) UpdateQualification(ctx context.Context, id uuid.UUID, score float64, data map[string]any, q bool) error {
	return nil
}
func (f *fakeLeadStore) MergeQualificationData(ctx context.Context, id uuid.UUID, patch map[string]any, lifecycle string) error {
	return nil
}
func (f *fakeLeadStore) SetLastContact(ctx context.Context, id uuid.UUID, at time.Time, lifecycle string) error {
	f.lifecycle = lifecycle
	return nil
}

func rung(hours float64, maxAttempts int) *store.FollowupRule {
	return &store.FollowupRule{
		ID:              store.GenNewID(),
		InactivityHours: hours,
		MaxAttempts:     maxAttempts,
		MessageTemplate: "oi, ainda está por aí?",
		IsActive:        true,
	}
}

func newTestService(fups *fakeFollowupStore, leads *fakeLeadStore) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store.Stores{Followups: fups, Leads: leads}, nil, nil, nil, logger)
}

func TestScheduleForLead_QueuesEveryRung(t *testing.T) {
	r1, r2, r3 := rung(24, 3), rung(72, 3), rung(168, 3)
	fups := &fakeFollowupStore{
		rules:     []*store.FollowupRule{r1, r2, r3},
		sentCount: map[uuid.UUID]int{},
		queued:    map[uuid.UUID]bool{},
	}
	leads := &fakeLeadStore{}

	lastContact := time.Now().UTC()
	lead := &store.Lead{ID: store.GenNewID(), Lifecycle: store.LifecycleContacted, LastContactAt: &lastContact}

	if err := newTestService(fups, leads).ScheduleForLead(context.Background(), lead); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(fups.scheduled) != 3 {
		t.Fatalf("expected one item per rung, got %d", len(fups.scheduled))
	}
	for i, want := range []*store.FollowupRule{r1, r2, r3} {
		item := fups.scheduled[i]
		if item.RuleID != want.ID {
			t.Fatalf("item %d scheduled for wrong rule: %+v", i, item)
		}
		wantAt := lastContact.Add(time.Duration(want.InactivityHours * float64(time.Hour)))
		if !item.ScheduledAt.Equal(wantAt) {
			t.Fatalf("item %d scheduled at %v, want %v", i, item.ScheduledAt, wantAt)
		}
		if item.Attempt != 1 {
			t.Fatalf("fresh rung must start at attempt 1: %+v", item)
		}
	}
	if leads.lifecycle != store.LifecycleFollowUpPending {
		t.Fatalf("lifecycle not advanced: %q", leads.lifecycle)
	}
}

func TestScheduleForLead_SkipsExhaustedAndQueuedRungs(t *testing.T) {
	exhausted, queued, fresh := rung(24, 2), rung(72, 3), rung(168, 3)
	fups := &fakeFollowupStore{
		rules:     []*store.FollowupRule{exhausted, queued, fresh},
		sentCount: map[uuid.UUID]int{exhausted.ID: 2, fresh.ID: 1},
		queued:    map[uuid.UUID]bool{queued.ID: true},
	}

	lastContact := time.Now().UTC()
	lead := &store.Lead{ID: store.GenNewID(), Lifecycle: store.LifecycleContacted, LastContactAt: &lastContact}

	if err := newTestService(fups, &fakeLeadStore{}).ScheduleForLead(context.Background(), lead); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if len(fups.scheduled) != 1 {
		t.Fatalf("only the fresh rung should schedule, got %d items", len(fups.scheduled))
	}
	if got := fups.scheduled[0]; got.RuleID != fresh.ID || got.Attempt != 2 {
		t.Fatalf("unexpected item: %+v", got)
	}
}

func TestScheduleForLead_NoOps(t *testing.T) {
	lastContact := time.Now().UTC()
	cases := []struct {
		name string
		lead *store.Lead
	}{
		{"no contact timestamp", &store.Lead{ID: store.GenNewID(), Lifecycle: store.LifecycleContacted}},
		{"qualified", &store.Lead{ID: store.GenNewID(), Lifecycle: store.LifecycleContacted, IsQualified: true, LastContactAt: &lastContact}},
		{"terminal lifecycle", &store.Lead{ID: store.GenNewID(), Lifecycle: store.LifecycleHandoffDone, LastContactAt: &lastContact}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fups := &fakeFollowupStore{
				rules:     []*store.FollowupRule{rung(24, 3)},
				sentCount: map[uuid.UUID]int{},
				queued:    map[uuid.UUID]bool{},
			}
			if err := newTestService(fups, &fakeLeadStore{}).ScheduleForLead(context.Background(), tc.lead); err != nil {
				t.Fatalf("schedule: %v", err)
			}
			if len(fups.scheduled) != 0 {
				t.Fatalf("expected no items, got %d", len(fups.scheduled))
			}
		})
	}
}
