/**
 * @description
 * Recurring transfer rules ("standing orders") and their schedule arithmetic.
 *
 * The scheduler is the only writer of the next/last execution dates and of the
 * natural-expiry transition; owner operations go through Pause/Resume/Cancel/Update.
 */

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

type RuleStatus string

const (
	RuleStatusActive    RuleStatus = "ACTIVE"
	RuleStatusPaused    RuleStatus = "PAUSED"
	RuleStatusCancelled RuleStatus = "CANCELLED"
)

// maxFailureReasonLen bounds what is persisted in last_failure_reason.
const maxFailureReasonLen = 500

type RecurringTransferRule struct {
	ID                   uuid.UUID       `json:"id"`
	OwnerID              string          `json:"owner_id"`
	SourceAccountID      uuid.UUID       `json:"source_account_id"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description,omitempty"`
	Frequency            Frequency       `json:"frequency"`
	DayOfWeek            *time.Weekday   `json:"day_of_week,omitempty"`
	DayOfMonth           *int            `json:"day_of_month,omitempty"`
	StartDate            Date            `json:"start_date"`
	EndDate              Date            `json:"end_date"`
	NextExecutionDate    Date            `json:"next_execution_date"`
	LastExecutionDate    Date            `json:"last_execution_date"`
	Active               bool            `json:"active"`
	Status               RuleStatus      `json:"status"`
	FailureCount         int             `json:"failure_count"`
	LastFailureReason    string          `json:"last_failure_reason,omitempty"`
	Version              int64           `json:"-"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// NewRecurringTransferRuleParams carries the owner-supplied fields of a new rule.
type NewRecurringTransferRuleParams struct {
	OwnerID              string
	SourceAccountID      uuid.UUID
	DestinationAccountID uuid.UUID
	Amount               decimal.Decimal
	Description          string
	Frequency            Frequency
	DayOfWeek            *time.Weekday
	DayOfMonth           *int
	StartDate            Date
	EndDate              Date
}

// NewRecurringTransferRule validates params and computes the first execution date,
// which is the first occurrence on or after the start date.
func NewRecurringTransferRule(p NewRecurringTransferRuleParams, now time.Time) (*RecurringTransferRule, error) {
	if p.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if p.SourceAccountID == p.DestinationAccountID {
		return nil, ErrSameAccountTransfer
	}
	if err := ValidateAmount(p.Amount); err != nil {
		return nil, err
	}
	if !p.Frequency.Valid() {
		return nil, fmt.Errorf("%w: unknown frequency %q", ErrInvalidSchedule, p.Frequency)
	}
	if p.StartDate.IsZero() {
		return nil, fmt.Errorf("%w: start date is required", ErrInvalidSchedule)
	}

	rule := &RecurringTransferRule{
		ID:                   uuid.New(),
		OwnerID:              p.OwnerID,
		SourceAccountID:      p.SourceAccountID,
		DestinationAccountID: p.DestinationAccountID,
		Amount:               p.Amount,
		Description:          strings.TrimSpace(p.Description),
		Frequency:            p.Frequency,
		StartDate:            p.StartDate,
		EndDate:              p.EndDate,
		Active:               true,
		Status:               RuleStatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	switch p.Frequency {
	case FrequencyWeekly:
		dow := p.StartDate.Weekday()
		if p.DayOfWeek != nil {
			if *p.DayOfWeek < time.Sunday || *p.DayOfWeek > time.Saturday {
				return nil, fmt.Errorf("%w: day of week must be 0-6", ErrInvalidSchedule)
			}
			dow = *p.DayOfWeek
		}
		rule.DayOfWeek = &dow
	case FrequencyMonthly:
		dom := p.StartDate.Day()
		if p.DayOfMonth != nil {
			if *p.DayOfMonth < 1 || *p.DayOfMonth > 31 {
				return nil, fmt.Errorf("%w: day of month must be 1-31", ErrInvalidSchedule)
			}
			dom = *p.DayOfMonth
		}
		rule.DayOfMonth = &dom
	}

	rule.NextExecutionDate = rule.FirstOccurrenceOnOrAfter(p.StartDate)
	if !rule.EndDate.IsZero() && rule.NextExecutionDate.After(rule.EndDate) {
		return nil, fmt.Errorf("%w: no execution falls between start %s and end %s", ErrInvalidSchedule, rule.StartDate, rule.EndDate)
	}
	return rule, nil
}

// FirstOccurrenceOnOrAfter returns the first date >= from that matches the rule's
// day-of-week or day-of-month anchor.
func (r *RecurringTransferRule) FirstOccurrenceOnOrAfter(from Date) Date {
	switch r.Frequency {
	case FrequencyWeekly:
		if r.DayOfWeek == nil {
			return from
		}
		delta := (int(*r.DayOfWeek) - int(from.Weekday()) + 7) % 7
		return from.AddDays(delta)
	case FrequencyMonthly:
		if r.DayOfMonth == nil {
			return from
		}
		candidate := from.AddMonths(0, *r.DayOfMonth)
		if candidate.Before(from) {
			candidate = from.AddMonths(1, *r.DayOfMonth)
		}
		return candidate
	default:
		return from
	}
}

// Advance returns the execution date one period after current.
func (r *RecurringTransferRule) Advance(current Date) Date {
	switch r.Frequency {
	case FrequencyWeekly:
		return current.AddDays(7)
	case FrequencyMonthly:
		anchor := current.Day()
		if r.DayOfMonth != nil {
			anchor = *r.DayOfMonth
		}
		return current.AddMonths(1, anchor)
	default:
		return current.AddDays(1)
	}
}

// IsDue reports whether the scheduler should execute the rule on today.
func (r *RecurringTransferRule) IsDue(today Date) bool {
	return r.Status == RuleStatusActive && !r.NextExecutionDate.After(today)
}

// RecordSuccess advances the schedule after a successful execution on today.
// It returns true when the rule expired because the next date passed the end date.
func (r *RecurringTransferRule) RecordSuccess(today Date, now time.Time) bool {
	r.NextExecutionDate = r.Advance(r.NextExecutionDate)
	r.LastExecutionDate = today
	r.FailureCount = 0
	r.LastFailureReason = ""
	r.UpdatedAt = now

	if !r.EndDate.IsZero() && r.NextExecutionDate.After(r.EndDate) {
		r.Status = RuleStatusCancelled
		r.Active = false
		return true
	}
	return false
}

// RecordFailure notes a failed attempt; the next execution date is left alone so
// the rule is retried on the next tick.
func (r *RecurringTransferRule) RecordFailure(reason string, now time.Time) {
	if len(reason) > maxFailureReasonLen {
		reason = reason[:maxFailureReasonLen]
	}
	r.FailureCount++
	r.LastFailureReason = reason
	r.UpdatedAt = now
}

func (r *RecurringTransferRule) Pause(now time.Time) error {
	if r.Status != RuleStatusActive {
		return fmt.Errorf("%w: cannot pause a %s rule", ErrInvalidStateTransition, r.Status)
	}
	r.Status = RuleStatusPaused
	r.Active = false
	r.UpdatedAt = now
	return nil
}

// Resume reactivates a paused rule. Periods missed while paused are skipped.
func (r *RecurringTransferRule) Resume(today Date, now time.Time) error {
	if r.Status != RuleStatusPaused {
		return fmt.Errorf("%w: cannot resume a %s rule", ErrInvalidStateTransition, r.Status)
	}
	next := r.NextExecutionDate
	for next.Before(today) {
		next = r.Advance(next)
	}
	if !r.EndDate.IsZero() && next.After(r.EndDate) {
		return fmt.Errorf("%w: rule has no executions left before %s", ErrInvalidSchedule, r.EndDate)
	}
	r.NextExecutionDate = next
	r.Status = RuleStatusActive
	r.Active = true
	r.UpdatedAt = now
	return nil
}

// Cancel is terminal; a cancelled rule cannot be resumed.
func (r *RecurringTransferRule) Cancel(now time.Time) error {
	if r.Status == RuleStatusCancelled {
		return fmt.Errorf("%w: rule already cancelled", ErrInvalidStateTransition)
	}
	r.Status = RuleStatusCancelled
	r.Active = false
	r.UpdatedAt = now
	return nil
}

// RuleUpdate holds the owner-editable fields; nil means unchanged.
type RuleUpdate struct {
	Amount       *decimal.Decimal
	Description  *string
	EndDate      *Date
	ClearEndDate bool
}

func (r *RecurringTransferRule) Update(u RuleUpdate, now time.Time) error {
	if r.Status == RuleStatusCancelled {
		return fmt.Errorf("%w: cancelled rules cannot be edited", ErrInvalidStateTransition)
	}
	if u.Amount != nil {
		if err := ValidateAmount(*u.Amount); err != nil {
			return err
		}
	}
	endDate := r.EndDate
	if u.ClearEndDate {
		endDate = Date{}
	} else if u.EndDate != nil {
		endDate = *u.EndDate
	}
	if !endDate.IsZero() && (endDate.Before(r.StartDate) || endDate.Before(r.NextExecutionDate)) {
		return fmt.Errorf("%w: end date %s is before the next execution %s", ErrInvalidSchedule, endDate, r.NextExecutionDate)
	}

	if u.Amount != nil {
		r.Amount = *u.Amount
	}
	if u.Description != nil {
		r.Description = strings.TrimSpace(*u.Description)
	}
	r.EndDate = endDate
	r.UpdatedAt = now
	return nil
}
