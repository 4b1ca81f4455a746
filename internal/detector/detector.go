package detector

import (
	"context"
	"fmt"

	"github.com/itamarsh/cardledger/internal/domain"
	"github.com/itamarsh/cardledger/internal/parser"
	"github.com/itamarsh/cardledger/pkg/logger"
)

// Service decides which card and issuer a file belongs to before any parsing
// begins. Four tiers of decreasing confidence are tried in order and the
// first that yields a usable candidate short-circuits the rest. The status,
// not the tier, gates whether parsing may proceed: only VERIFIED goes ahead
// without a human decision.
type Service struct {
	cards    domain.CardRepository
	registry *parser.Registry
	logger   *logger.Logger
}

func New(cards domain.CardRepository, registry *parser.Registry, log *logger.Logger) *Service {
	return &Service{
		cards:    cards,
		registry: registry,
		logger:   log,
	}
}

type Request struct {
	Owner            string
	FilePath         string
	Filename         string
	UserProvidedCard *domain.CardInfo
}

func (s *Service) DetectCard(ctx context.Context, req Request) (*domain.DetectionResult, error) {
	// Tier 1: the caller named the card explicitly.
	if req.UserProvidedCard != nil {
		return s.checkRegistry(ctx, req.Owner, req.UserProvidedCard, domain.TierUser, "user-provided card")
	}

	// Tier 2: issuer filename conventions.
	if candidate, ok := s.registry.MatchFilename(req.Filename); ok {
		headerCandidate, headerOK := s.registry.ExtractHeader(req.FilePath)
		if headerOK && !candidate.Equal(headerCandidate) {
			s.logger.Warn(ctx, "Filename and header evidence disagree",
				"filename_card", candidate,
				"header_card", headerCandidate,
			)
			return &domain.DetectionResult{
				Status:   domain.DetectionClash,
				Tier:     domain.TierFilename,
				CardInfo: nil,
				ClashDetails: &domain.ClashDetails{
					Expected: candidate,
					Found:    headerCandidate,
					Reason:   "filename-derived card disagrees with file header",
				},
				NeedsUserConfirmation: true,
				Message:               "conflicting card evidence between filename and file contents",
			}, nil
		}

		note := "filename matched and confirmed by file header"
		if !headerOK {
			note = "filename matched; header unavailable, lower confidence"
		}
		return s.checkRegistry(ctx, req.Owner, candidate, domain.TierFilename, note)
	}

	// Tier 3: header sniffing alone.
	if candidate, ok := s.registry.ExtractHeader(req.FilePath); ok {
		return s.checkRegistry(ctx, req.Owner, candidate, domain.TierHeader, "card extracted from file header")
	}

	// Tier 4: nothing automated worked.
	return &domain.DetectionResult{
		Status:                domain.DetectionNeedsManual,
		Tier:                  domain.TierManual,
		CardInfo:              nil,
		NeedsUserConfirmation: true,
		Message:               "no card evidence found; manual selection required",
	}, nil
}

// checkRegistry cross-checks a candidate against the stored card registry and
// maps the outcome to the detection taxonomy.
func (s *Service) checkRegistry(ctx context.Context, owner string, candidate *domain.CardInfo, tier domain.DetectionTier, note string) (*domain.DetectionResult, error) {
	stored, err := s.cards.FindCard(ctx, candidate.Last4, owner)
	if err != nil {
		return nil, fmt.Errorf("card registry lookup: %w", err)
	}

	if stored == nil {
		return &domain.DetectionResult{
			Status:                domain.DetectionNewCard,
			Tier:                  tier,
			CardInfo:              candidate,
			NeedsUserConfirmation: true,
			Message:               fmt.Sprintf("%s; card %s not registered, confirmation required", note, candidate.Last4),
		}, nil
	}

	if stored.Issuer != candidate.Issuer {
		s.logger.Warn(ctx, "Stored issuer disagrees with detected issuer",
			"last4", candidate.Last4,
			"stored_issuer", stored.Issuer,
			"detected_issuer", candidate.Issuer,
		)
		return &domain.DetectionResult{
			Status:   domain.DetectionClash,
			Tier:     tier,
			CardInfo: nil,
			DBCardID: stored.ID,
			ClashDetails: &domain.ClashDetails{
				Expected: &domain.CardInfo{Last4: stored.Last4, Issuer: stored.Issuer},
				Found:    candidate,
				Reason:   "registered issuer differs from detected issuer",
			},
			NeedsUserConfirmation: true,
			Message:               fmt.Sprintf("%s; issuer conflicts with registry", note),
		}, nil
	}

	return &domain.DetectionResult{
		Status:                domain.DetectionVerified,
		Tier:                  tier,
		CardInfo:              candidate,
		DBCardID:              stored.ID,
		NeedsUserConfirmation: false,
		Message:               note,
	}, nil
}

// RegisterCard creates a card after the user confirmed a NEW_CARD outcome.
func (s *Service) RegisterCard(ctx context.Context, owner string, info domain.CardInfo) (int64, error) {
	existing, err := s.cards.FindCard(ctx, info.Last4, owner)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}
	return s.cards.CreateCard(ctx, &domain.Card{
		Last4:  info.Last4,
		Issuer: info.Issuer,
		Owner:  owner,
	})
}
