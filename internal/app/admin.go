package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"deal-reminders/internal/deal"
)

// CreateDealOptions configure deal authoring.
type CreateDealOptions struct {
	ID            string
	Name          string
	DistributorID string
	Year          int
	Month         int
	MinQty        int64
	SizesJSON     string
}

// CreateDeal authors an inactive deal for a cycle month. Window
// timestamps come from the calendar table; tier lists are validated
// here, never by the reminder engine.
func (a *App) CreateDeal(ctx context.Context, opts CreateDealOptions) error {
	var sizes []deal.Size
	if err := json.Unmarshal([]byte(opts.SizesJSON), &sizes); err != nil {
		return fmt.Errorf("parse --sizes: %w", err)
	}
	if len(sizes) == 0 {
		return fmt.Errorf("--sizes must define at least one size")
	}

	d, err := deal.NewDeal(opts.ID, opts.Name, opts.DistributorID, opts.Year, time.Month(opts.Month), sizes, opts.MinQty, time.Now().UTC())
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.InsertDeal(ctx, d); err != nil {
		return err
	}

	a.Logger.Info().
		Str("deal_id", d.ID).
		Time("commitment_start_at", d.CommitmentStartAt).
		Time("commitment_ends_at", d.CommitmentEndsAt).
		Msg("deal created")
	return nil
}

// PostDeal flips an inactive deal to active, opening it to members and
// silencing further posting reminders.
func (a *App) PostDeal(ctx context.Context, dealID string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.MarkDealPosted(ctx, dealID); err != nil {
		return err
	}
	a.Logger.Info().Str("deal_id", dealID).Msg("deal posted")
	return nil
}

// Commit prices and records a member commitment on a deal.
func (a *App) Commit(ctx context.Context, dealID, userID string, quantities map[string]int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	d, err := store.GetDeal(ctx, dealID)
	if err != nil {
		return err
	}

	c, err := deal.BuildCommitment(&d, userID, quantities, time.Now().UTC())
	if err != nil {
		return err
	}

	id, err := store.InsertCommitment(ctx, c)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("commitment_id", id).
		Str("deal_id", dealID).
		Str("user_id", userID).
		Str("total", c.Total.String()).
		Msg("commitment recorded")
	return nil
}

// Review moves a commitment to approved or declined.
func (a *App) Review(ctx context.Context, commitmentID string, status deal.CommitmentStatus) error {
	if status != deal.CommitmentApproved && status != deal.CommitmentDeclined {
		return fmt.Errorf("status must be %s or %s", deal.CommitmentApproved, deal.CommitmentDeclined)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.UpdateCommitmentStatus(ctx, commitmentID, status); err != nil {
		return err
	}
	a.Logger.Info().Str("commitment_id", commitmentID).Str("status", string(status)).Msg("commitment reviewed")
	return nil
}
