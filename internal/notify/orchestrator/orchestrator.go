package orchestrator

import (
	"context"
	"fmt"
	"time"

	"memberdeals-notifications/internal/common/logger"
	"memberdeals-notifications/internal/models"
	"memberdeals-notifications/internal/notify/audit"
)

// Template types owned by the orchestrator. The template store must be able
// to resolve each of these or the corresponding hook degrades to a failure
// result.
const (
	TypeUserWelcome          = "user_welcome"
	TypeMerchantWelcome      = "merchant_welcome"
	TypeProfileStatusChanged = "profile_status_changed"
	TypePasswordChanged      = "password_changed"
	TypePlanAssigned         = "plan_assigned"
	TypePlanExpiring         = "plan_expiring"
	TypeLimitsRenewed        = "limits_renewed"
	TypeDealCreated          = "deal_created"
	TypeDealStatusChanged    = "deal_status_changed"
	TypeRedemptionRequested  = "redemption_requested"
	TypeRedemptionResponded  = "redemption_responded"
	TypeAdminAlert           = "admin_alert"
)

// Sender is the single entry point the orchestrator delivers through.
type Sender interface {
	Send(ctx context.Context, req *models.SendRequest) (*models.DeliveryResult, error)
}

// StatsReader feeds the daily admin summary.
type StatsReader interface {
	GetStats(ctx context.Context, window time.Duration) (*audit.Stats, error)
}

// HookResult is what every single-recipient hook returns. Hooks never
// propagate errors or panics to their caller.
type HookResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FanoutResult aggregates a multi-recipient hook. One recipient's failure
// never stops the fan-out.
type FanoutResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Orchestrator turns domain events into outbound notifications.
type Orchestrator struct {
	sender      Sender
	directory   Directory
	stats       StatsReader
	frontendURL string
	logger      logger.Logger
}

func New(sender Sender, directory Directory, stats StatsReader, frontendURL string, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		sender:      sender,
		directory:   directory,
		stats:       stats,
		frontendURL: frontendURL,
		logger:      log.WithFields(map[string]interface{}{"component": "orchestrator"}),
	}
}

// UserRegisteredEvent carries the fields the welcome message needs.
type UserRegisteredEvent struct {
	Name  string
	Email string
}

func (o *Orchestrator) UserRegistered(ctx context.Context, ev UserRegisteredEvent) HookResult {
	return o.deliver(ctx, "user-registered", ev.Email, TypeUserWelcome, models.PriorityNormal, map[string]interface{}{
		"firstName":   ev.Name,
		"email":       ev.Email,
		"frontendUrl": o.frontendURL,
	})
}

// MerchantRegisteredEvent announces a new merchant account.
type MerchantRegisteredEvent struct {
	BusinessName string
	Email        string
}

func (o *Orchestrator) MerchantRegistered(ctx context.Context, ev MerchantRegisteredEvent) HookResult {
	return o.deliver(ctx, "merchant-registered", ev.Email, TypeMerchantWelcome, models.PriorityNormal, map[string]interface{}{
		"businessName": ev.BusinessName,
		"email":        ev.Email,
		"frontendUrl":  o.frontendURL,
	})
}

// ProfileStatusChangedEvent covers activation, suspension and rejection.
type ProfileStatusChangedEvent struct {
	Name   string
	Email  string
	Status string
	Reason string
}

func (o *Orchestrator) ProfileStatusChanged(ctx context.Context, ev ProfileStatusChangedEvent) HookResult {
	return o.deliver(ctx, "profile-status-changed", ev.Email, TypeProfileStatusChanged, models.PriorityNormal, map[string]interface{}{
		"firstName": ev.Name,
		"status":    ev.Status,
		"reason":    ev.Reason,
	})
}

// PasswordChangedEvent notifies a member that an administrator reset their
// password.
type PasswordChangedEvent struct {
	Name  string
	Email string
}

func (o *Orchestrator) PasswordChangedByAdmin(ctx context.Context, ev PasswordChangedEvent) HookResult {
	return o.deliver(ctx, "password-changed", ev.Email, TypePasswordChanged, models.PriorityHigh, map[string]interface{}{
		"firstName":   ev.Name,
		"frontendUrl": o.frontendURL,
	})
}

// PlanAssignedEvent announces a new or upgraded membership plan.
type PlanAssignedEvent struct {
	Name            string
	Email           string
	PlanName        string
	DealLimit       int
	RedemptionLimit int
	ExpiresAt       *time.Time
}

func (o *Orchestrator) PlanAssigned(ctx context.Context, ev PlanAssignedEvent) HookResult {
	data := map[string]interface{}{
		"firstName":       ev.Name,
		"planName":        ev.PlanName,
		"dealLimit":       ev.DealLimit,
		"redemptionLimit": ev.RedemptionLimit,
	}
	if ev.ExpiresAt != nil {
		data["expiresAt"] = ev.ExpiresAt.Format("January 2, 2006")
	}
	return o.deliver(ctx, "plan-assigned", ev.Email, TypePlanAssigned, models.PriorityNormal, data)
}

// PlanExpiring warns one member ahead of their plan's expiry date.
func (o *Orchestrator) PlanExpiring(ctx context.Context, m PlanMembership) HookResult {
	days := int(time.Until(m.ExpiresAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return o.deliver(ctx, "plan-expiring", m.Email, TypePlanExpiring, models.PriorityHigh, map[string]interface{}{
		"firstName":   m.Name,
		"planName":    m.PlanName,
		"expiresAt":   m.ExpiresAt.Format("January 2, 2006"),
		"daysLeft":    days,
		"frontendUrl": o.frontendURL,
	})
}

// MonthlyLimitsRenewed tells one member their monthly counters were reset.
func (o *Orchestrator) MonthlyLimitsRenewed(ctx context.Context, m PlanMembership) HookResult {
	return o.deliver(ctx, "limits-renewed", m.Email, TypeLimitsRenewed, models.PriorityLow, map[string]interface{}{
		"firstName":       m.Name,
		"planName":        m.PlanName,
		"dealLimit":       m.DealLimit,
		"redemptionLimit": m.RedemptionLimit,
	})
}

// DealCreatedEvent fans out to every active user.
type DealCreatedEvent struct {
	DealTitle    string
	MerchantName string
	Category     string
}

func (o *Orchestrator) DealCreated(ctx context.Context, ev DealCreatedEvent) FanoutResult {
	recipients, err := o.directory.ActiveUserContacts(ctx)
	if err != nil {
		o.logger.Error("deal-created recipient lookup failed", map[string]interface{}{"error": err.Error()})
		return FanoutResult{}
	}
	return o.fanout(ctx, "deal-created", recipients, TypeDealCreated, models.PriorityLow, func(c Contact) map[string]interface{} {
		return map[string]interface{}{
			"firstName":    c.Name,
			"dealTitle":    ev.DealTitle,
			"merchantName": ev.MerchantName,
			"category":     ev.Category,
			"frontendUrl":  o.frontendURL,
		}
	})
}

// DealStatusChangedEvent notifies the owning merchant of an approval or
// rejection.
type DealStatusChangedEvent struct {
	MerchantName  string
	MerchantEmail string
	DealTitle     string
	Status        string
	Reason        string
}

func (o *Orchestrator) DealStatusChanged(ctx context.Context, ev DealStatusChangedEvent) HookResult {
	return o.deliver(ctx, "deal-status-changed", ev.MerchantEmail, TypeDealStatusChanged, models.PriorityNormal, map[string]interface{}{
		"businessName": ev.MerchantName,
		"dealTitle":    ev.DealTitle,
		"status":       ev.Status,
		"reason":       ev.Reason,
	})
}

// RedemptionRequestedEvent asks the merchant to confirm a redemption code.
type RedemptionRequestedEvent struct {
	MerchantName  string
	MerchantEmail string
	DealTitle     string
	UserName      string
	Code          string
}

func (o *Orchestrator) RedemptionRequested(ctx context.Context, ev RedemptionRequestedEvent) HookResult {
	return o.deliver(ctx, "redemption-requested", ev.MerchantEmail, TypeRedemptionRequested, models.PriorityHigh, map[string]interface{}{
		"businessName": ev.MerchantName,
		"dealTitle":    ev.DealTitle,
		"userName":     ev.UserName,
		"code":         ev.Code,
		"frontendUrl":  o.frontendURL,
	})
}

// RedemptionRespondedEvent tells the member whether their redemption was
// approved.
type RedemptionRespondedEvent struct {
	UserName  string
	UserEmail string
	DealTitle string
	Approved  bool
	Reason    string
}

func (o *Orchestrator) RedemptionResponded(ctx context.Context, ev RedemptionRespondedEvent) HookResult {
	status := "rejected"
	if ev.Approved {
		status = "approved"
	}
	return o.deliver(ctx, "redemption-responded", ev.UserEmail, TypeRedemptionResponded, models.PriorityNormal, map[string]interface{}{
		"firstName": ev.UserName,
		"dealTitle": ev.DealTitle,
		"status":    status,
		"reason":    ev.Reason,
	})
}

// AdminAlert fans out an operational notice to every active administrator.
func (o *Orchestrator) AdminAlert(ctx context.Context, subject string, data map[string]interface{}) FanoutResult {
	admins, err := o.directory.AdminContacts(ctx)
	if err != nil {
		o.logger.Error("admin-alert recipient lookup failed", map[string]interface{}{"error": err.Error()})
		return FanoutResult{}
	}
	return o.fanout(ctx, "admin-alert", admins, TypeAdminAlert, models.PriorityHigh, func(c Contact) map[string]interface{} {
		d := map[string]interface{}{
			"adminName": c.Name,
			"subject":   subject,
		}
		for k, v := range data {
			d[k] = v
		}
		return d
	})
}

// RunExpiryCheck notifies members whose plans expire within the next week.
func (o *Orchestrator) RunExpiryCheck(ctx context.Context) (FanoutResult, error) {
	expiring, err := o.directory.ExpiringPlans(ctx, 7*24*time.Hour)
	if err != nil {
		return FanoutResult{}, err
	}

	result := FanoutResult{Total: len(expiring)}
	for _, m := range expiring {
		if o.PlanExpiring(ctx, m).Success {
			result.Sent++
		} else {
			result.Failed++
		}
	}
	o.logger.Info("expiry check completed", map[string]interface{}{
		"sent": result.Sent, "failed": result.Failed, "total": result.Total,
	})
	return result, nil
}

// RunMonthlyRenewal notifies every active plan member that their monthly
// limits rolled over.
func (o *Orchestrator) RunMonthlyRenewal(ctx context.Context) (FanoutResult, error) {
	members, err := o.directory.ActivePlanMembers(ctx)
	if err != nil {
		return FanoutResult{}, err
	}

	result := FanoutResult{Total: len(members)}
	for _, m := range members {
		if o.MonthlyLimitsRenewed(ctx, m).Success {
			result.Sent++
		} else {
			result.Failed++
		}
	}
	o.logger.Info("monthly renewal notices completed", map[string]interface{}{
		"sent": result.Sent, "failed": result.Failed, "total": result.Total,
	})
	return result, nil
}

// RunAdminSummary mails the trailing-24h delivery stats to all admins.
func (o *Orchestrator) RunAdminSummary(ctx context.Context) (FanoutResult, error) {
	stats, err := o.stats.GetStats(ctx, 24*time.Hour)
	if err != nil {
		return FanoutResult{}, err
	}

	result := o.AdminAlert(ctx, "Daily notification summary", map[string]interface{}{
		"sent":        stats.Sent,
		"logged":      stats.Logged,
		"failed":      stats.Failed,
		"total":       stats.Total,
		"successRate": fmt.Sprintf("%.1f%%", stats.SuccessRate*100),
	})
	return result, nil
}

// deliver runs one send under a recover guard so a hook can never panic or
// leak a raw error into the calling request handler.
func (o *Orchestrator) deliver(ctx context.Context, hook, to, templateType, priority string, data map[string]interface{}) (res HookResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("hook panicked", map[string]interface{}{
				"hook":  hook,
				"panic": fmt.Sprintf("%v", r),
			})
			res = HookResult{Success: false, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	outcome, err := o.sender.Send(ctx, &models.SendRequest{
		To:       to,
		Type:     templateType,
		Data:     data,
		Priority: priority,
	})
	if err != nil {
		o.logger.Warn("hook send failed", map[string]interface{}{
			"hook":  hook,
			"to":    to,
			"error": err.Error(),
		})
		return HookResult{Success: false, Error: err.Error()}
	}
	if !outcome.Success {
		return HookResult{Success: false, Error: outcome.Error}
	}
	return HookResult{Success: true}
}

func (o *Orchestrator) fanout(ctx context.Context, hook string, recipients []Contact, templateType, priority string, dataFor func(Contact) map[string]interface{}) FanoutResult {
	result := FanoutResult{Total: len(recipients)}
	for _, c := range recipients {
		if o.deliver(ctx, hook, c.Email, templateType, priority, dataFor(c)).Success {
			result.Sent++
		} else {
			result.Failed++
		}
	}
	o.logger.Info("fan-out completed", map[string]interface{}{
		"hook": hook, "sent": result.Sent, "failed": result.Failed, "total": result.Total,
	})
	return result
}
