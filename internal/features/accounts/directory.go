// Package accounts: directory.go answers "who is this broadcaster" and
// "can they be paid" for the rest of the service.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/features/tips"
)

// Directory resolves broadcaster references and payout accounts.
type Directory struct {
	store Store
}

func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// ResolveBroadcaster turns tipper-supplied context into a reference.
// A known id wins, then an e-mail lookup; an unknown e-mail yields an
// unresolved reference so the tip can be bound later.
func (d *Directory) ResolveBroadcaster(ctx context.Context, req ResolveRequest) (tips.BroadcasterRef, error) {
	id := strings.TrimSpace(req.BroadcasterID)
	email := common.NormalizeEmail(req.Email)
	if id == "" && email == "" {
		return tips.BroadcasterRef{}, common.ErrMissingBroadcaster
	}

	if id != "" {
		b, err := d.store.GetByID(ctx, id)
		switch {
		case err == nil:
			return tips.Resolved(b.ID), nil
		case !errors.Is(err, common.ErrBroadcasterNotFound):
			return tips.BroadcasterRef{}, err
		case email == "":
			return tips.BroadcasterRef{}, err
		}
	}

	b, err := d.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrBroadcasterNotFound) {
			return tips.Unresolved(email), nil
		}
		return tips.BroadcasterRef{}, err
	}
	return tips.Resolved(b.ID), nil
}

// Broadcaster returns the broadcaster identity.
func (d *Directory) Broadcaster(ctx context.Context, id string) (*Broadcaster, error) {
	return d.store.GetByID(ctx, id)
}

// GetAccount returns the payout account, or nil when the broadcaster has none.
func (d *Directory) GetAccount(ctx context.Context, broadcasterID string) (*PayoutAccount, error) {
	b, err := d.store.GetByID(ctx, broadcasterID)
	if err != nil {
		return nil, err
	}
	return b.Account, nil
}

// Activate records the activation state reported by the processor for a
// connected account. It returns the broadcaster and whether the account just
// became usable for transfers.
func (d *Directory) Activate(ctx context.Context, externalID string, activated bool) (*Broadcaster, bool, error) {
	b, err := d.store.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, false, err
	}
	changed, err := d.store.SetActivated(ctx, b.ID, activated)
	if err != nil {
		return nil, false, err
	}
	if b.Account != nil {
		b.Account.Activated = activated
	}

	log.WithFields(log.Fields{
		"broadcaster_id": b.ID,
		"account":        externalID,
		"activated":      activated,
		"changed":        changed,
	}).Info("Payout account state recorded")

	return b, changed && activated, nil
}

// Register creates or updates a broadcaster. Used by onboarding and the CLI.
func (d *Directory) Register(ctx context.Context, b Broadcaster) (*Broadcaster, error) {
	b.ID = strings.TrimSpace(b.ID)
	b.Email = common.NormalizeEmail(b.Email)
	if b.ID == "" || b.Email == "" {
		return nil, fmt.Errorf("broadcaster id and email are required: %w", common.ErrMissingBroadcaster)
	}
	if err := d.store.Upsert(ctx, &b); err != nil {
		return nil, err
	}
	return d.store.GetByID(ctx, b.ID)
}

// List returns all broadcasters.
func (d *Directory) List(ctx context.Context) ([]*Broadcaster, error) {
	return d.store.List(ctx)
}
