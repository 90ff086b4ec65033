// Package scale resolves an organization's voting deck and computes the
// consensus estimate from a round's votes.
package scale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set"
	"github.com/uptrace/bun"

	"github.com/pointdeck-project/backend/internal/database/models"
)

// Unsure is the reserved "I don't know" card. It is always a legal vote and
// never counts toward the estimate.
const Unsure float64 = 0

// DefaultDeck is used when an organization has no scrum points configured.
var DefaultDeck = []float64{1, 2, 3, 5, 8, 13, 20, 40, 100}

type Provider struct {
	DB *bun.DB
}

func NewProvider(db *bun.DB) *Provider {
	return &Provider{DB: db}
}

// Values returns the organization's deck in configured order, falling back
// to DefaultDeck when nothing is configured.
func (p *Provider) Values(ctx context.Context, orgID string) (deck []float64, err error) {
	var settingsID uint
	if settingsID, err = p.ensureSettings(ctx, orgID); err != nil {
		return
	}

	var points []models.ScrumPoint
	err = p.DB.NewSelect().
		Model(&points).
		Where("game_settings_id = ?", settingsID).
		Order("position ASC").
		Scan(ctx)
	if err != nil {
		return
	}

	if len(points) == 0 {
		deck = DefaultDeck
		return
	}

	deck = make([]float64, 0, len(points))
	for _, pt := range points {
		deck = append(deck, pt.Value)
	}
	return
}

func (p *Provider) ensureSettings(ctx context.Context, orgID string) (id uint, err error) {
	var settings models.GameSettings
	err = p.DB.NewSelect().
		Model(&settings).
		Where("organization_id = ?", orgID).
		Scan(ctx)
	if err == nil {
		id = settings.ID
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("scale: failed to load settings for org %s: %w", orgID, err)
		return
	}

	settings = models.GameSettings{OrganizationID: orgID}
	_, err = p.DB.NewInsert().
		Model(&settings).
		On("CONFLICT (organization_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		err = fmt.Errorf("scale: failed to create settings for org %s: %w", orgID, err)
		return
	}

	// Re-read in case a concurrent insert won the conflict.
	err = p.DB.NewSelect().
		Model(&settings).
		Where("organization_id = ?", orgID).
		Scan(ctx)
	id = settings.ID
	return
}

// Valid reports whether value is a legal vote against the given deck.
func Valid(deck []float64, value float64) bool {
	if value == Unsure {
		return true
	}

	cards := mapset.NewThreadUnsafeSet()
	for _, card := range deck {
		cards.Add(card)
	}
	return cards.Contains(value)
}
