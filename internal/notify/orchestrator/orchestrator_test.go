package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/models"
	"memberdeals-notifications/internal/notify/audit"
)

// ==========================
// Test Doubles
// ==========================

type fakeSender struct {
	requests []*models.SendRequest
	failFor  map[string]error
	panicFor string
}

func (f *fakeSender) Send(_ context.Context, req *models.SendRequest) (*models.DeliveryResult, error) {
	if req.To == f.panicFor && f.panicFor != "" {
		panic("transport exploded")
	}
	f.requests = append(f.requests, req)
	if err, ok := f.failFor[req.To]; ok {
		return nil, err
	}
	return &models.DeliveryResult{Success: true, Method: models.MethodPrimary, MessageID: "<m>"}, nil
}

type fakeDirectory struct {
	users    []Contact
	admins   []Contact
	expiring []PlanMembership
	members  []PlanMembership
	err      error
}

func (f *fakeDirectory) ActiveUserContacts(_ context.Context) ([]Contact, error) {
	return f.users, f.err
}
func (f *fakeDirectory) AdminContacts(_ context.Context) ([]Contact, error) {
	return f.admins, f.err
}
func (f *fakeDirectory) ExpiringPlans(_ context.Context, _ time.Duration) ([]PlanMembership, error) {
	return f.expiring, f.err
}
func (f *fakeDirectory) ActivePlanMembers(_ context.Context) ([]PlanMembership, error) {
	return f.members, f.err
}

type fakeStats struct {
	stats *audit.Stats
	err   error
}

func (f *fakeStats) GetStats(_ context.Context, _ time.Duration) (*audit.Stats, error) {
	return f.stats, f.err
}

func newOrchestrator(t *testing.T, sender *fakeSender, dir *fakeDirectory, stats *fakeStats) *Orchestrator {
	if stats == nil {
		stats = &fakeStats{stats: &audit.Stats{}}
	}
	return New(sender, dir, stats, "https://app.example", logger.NewTestLogger(t))
}

// ==========================
// Single-Recipient Hook Tests
// ==========================

func TestOrchestrator_UserRegistered(t *testing.T) {
	sender := &fakeSender{}
	o := newOrchestrator(t, sender, &fakeDirectory{}, nil)

	result := o.UserRegistered(context.Background(), UserRegisteredEvent{
		Name:  "Ana",
		Email: "ana@x.com",
	})

	assert.True(t, result.Success)
	assert.Empty(t, result.Error)
	require.Len(t, sender.requests, 1)
	assert.Equal(t, "ana@x.com", sender.requests[0].To)
	assert.Equal(t, TypeUserWelcome, sender.requests[0].Type)
	assert.Equal(t, "Ana", sender.requests[0].Data["firstName"])
	assert.Equal(t, "https://app.example", sender.requests[0].Data["frontendUrl"])
}

func TestOrchestrator_HookConvertsSendErrorToFailureResult(t *testing.T) {
	sender := &fakeSender{failFor: map[string]error{
		"ana@x.com": errors.New("template not found"),
	}}
	o := newOrchestrator(t, sender, &fakeDirectory{}, nil)

	result := o.UserRegistered(context.Background(), UserRegisteredEvent{Name: "Ana", Email: "ana@x.com"})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "template not found")
}

func TestOrchestrator_HookNeverPanics(t *testing.T) {
	sender := &fakeSender{panicFor: "ana@x.com"}
	o := newOrchestrator(t, sender, &fakeDirectory{}, nil)

	var result HookResult
	assert.NotPanics(t, func() {
		result = o.PasswordChangedByAdmin(context.Background(), PasswordChangedEvent{
			Name:  "Ana",
			Email: "ana@x.com",
		})
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "internal error")
}

func TestOrchestrator_RedemptionResponded_StatusWording(t *testing.T) {
	sender := &fakeSender{}
	o := newOrchestrator(t, sender, &fakeDirectory{}, nil)

	o.RedemptionResponded(context.Background(), RedemptionRespondedEvent{
		UserName:  "Ana",
		UserEmail: "ana@x.com",
		DealTitle: "2-for-1 Coffee",
		Approved:  true,
	})
	o.RedemptionResponded(context.Background(), RedemptionRespondedEvent{
		UserName:  "Ben",
		UserEmail: "ben@x.com",
		DealTitle: "2-for-1 Coffee",
		Approved:  false,
		Reason:    "code expired",
	})

	require.Len(t, sender.requests, 2)
	assert.Equal(t, "approved", sender.requests[0].Data["status"])
	assert.Equal(t, "rejected", sender.requests[1].Data["status"])
	assert.Equal(t, "code expired", sender.requests[1].Data["reason"])
}

// ==========================
// Fan-out Hook Tests
// ==========================

func TestOrchestrator_DealCreated_FanoutIsolatesFailures(t *testing.T) {
	sender := &fakeSender{failFor: map[string]error{
		"b@x.com": errors.New("boom"),
	}}
	dir := &fakeDirectory{users: []Contact{
		{Name: "A", Email: "a@x.com"},
		{Name: "B", Email: "b@x.com"},
		{Name: "C", Email: "c@x.com"},
	}}
	o := newOrchestrator(t, sender, dir, nil)

	result := o.DealCreated(context.Background(), DealCreatedEvent{
		DealTitle:    "2-for-1 Coffee",
		MerchantName: "Brew Bros",
	})

	assert.Equal(t, FanoutResult{Sent: 2, Failed: 1, Total: 3}, result)
	// every recipient was attempted, including the one after the failure
	assert.Len(t, sender.requests, 3)
}

func TestOrchestrator_AdminAlert_MergesEventData(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{admins: []Contact{{Name: "Ops", Email: "ops@x.com"}}}
	o := newOrchestrator(t, sender, dir, nil)

	result := o.AdminAlert(context.Background(), "Queue backlog", map[string]interface{}{
		"pending": 120,
	})

	assert.Equal(t, FanoutResult{Sent: 1, Failed: 0, Total: 1}, result)
	require.Len(t, sender.requests, 1)
	assert.Equal(t, "Queue backlog", sender.requests[0].Data["subject"])
	assert.Equal(t, "Ops", sender.requests[0].Data["adminName"])
	assert.Equal(t, 120, sender.requests[0].Data["pending"])
}

func TestOrchestrator_FanoutLookupFailureYieldsEmptyResult(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{err: errors.New("db down")}
	o := newOrchestrator(t, sender, dir, nil)

	result := o.DealCreated(context.Background(), DealCreatedEvent{DealTitle: "x"})
	assert.Equal(t, FanoutResult{}, result)
	assert.Empty(t, sender.requests)
}

// ==========================
// Periodic Entry Point Tests
// ==========================

func TestOrchestrator_RunExpiryCheck(t *testing.T) {
	sender := &fakeSender{}
	expires := time.Now().Add(3 * 24 * time.Hour)
	dir := &fakeDirectory{expiring: []PlanMembership{
		{Contact: Contact{Name: "Ana", Email: "ana@x.com"}, PlanName: "Gold", ExpiresAt: expires},
	}}
	o := newOrchestrator(t, sender, dir, nil)

	result, err := o.RunExpiryCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, FanoutResult{Sent: 1, Failed: 0, Total: 1}, result)
	require.Len(t, sender.requests, 1)
	assert.Equal(t, TypePlanExpiring, sender.requests[0].Type)
	assert.Equal(t, "Gold", sender.requests[0].Data["planName"])
	assert.Equal(t, models.PriorityHigh, sender.requests[0].Priority)
}

func TestOrchestrator_RunMonthlyRenewal(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{members: []PlanMembership{
		{Contact: Contact{Name: "Ana", Email: "ana@x.com"}, PlanName: "Gold", DealLimit: 10, RedemptionLimit: 5},
		{Contact: Contact{Name: "Ben", Email: "ben@x.com"}, PlanName: "Silver", DealLimit: 5, RedemptionLimit: 2},
	}}
	o := newOrchestrator(t, sender, dir, nil)

	result, err := o.RunMonthlyRenewal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FanoutResult{Sent: 2, Failed: 0, Total: 2}, result)
	assert.Equal(t, TypeLimitsRenewed, sender.requests[0].Type)
	assert.Equal(t, 10, sender.requests[0].Data["dealLimit"])
}

func TestOrchestrator_RunAdminSummary(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{admins: []Contact{{Name: "Ops", Email: "ops@x.com"}}}
	stats := &fakeStats{stats: &audit.Stats{Sent: 8, Logged: 1, Failed: 1, Total: 10, SuccessRate: 0.9}}
	o := newOrchestrator(t, sender, dir, stats)

	result, err := o.RunAdminSummary(context.Background())
	require.NoError(t, err)

	assert.Equal(t, FanoutResult{Sent: 1, Failed: 0, Total: 1}, result)
	require.Len(t, sender.requests, 1)
	assert.Equal(t, TypeAdminAlert, sender.requests[0].Type)
	assert.Equal(t, 8, sender.requests[0].Data["sent"])
	assert.Equal(t, "90.0%", sender.requests[0].Data["successRate"])
}

func TestOrchestrator_RunExpiryCheck_LookupErrorPropagates(t *testing.T) {
	o := newOrchestrator(t, &fakeSender{}, &fakeDirectory{err: errors.New("db down")}, nil)

	_, err := o.RunExpiryCheck(context.Background())
	assert.Error(t, err)
}
