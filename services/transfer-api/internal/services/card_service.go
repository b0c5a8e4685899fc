package services

import (
	"context"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/dtos"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"go.uber.org/zap"
)

type CardReader interface {
	List(ctx context.Context) ([]models.Account, error)
}

type CardService interface {
	ListCards(ctx context.Context) (dtos.CardListDto, error)
}

type CardServiceImpl struct {
	logger *zap.Logger
	cards  CardReader
}

func NewCardService(logger *zap.Logger, cards CardReader) CardService {
	return &CardServiceImpl{logger: logger, cards: cards}
}

// ListCards returns every card in masked form.
func (s *CardServiceImpl) ListCards(ctx context.Context) (dtos.CardListDto, error) {
	accounts, err := s.cards.List(ctx)
	if err != nil {
		return dtos.CardListDto{}, pkg.NewAppError(pkg.ErrServerCode, "failed to load cards", err)
	}
	list := dtos.CardListDto{Count: len(accounts), Cards: make([]dtos.CardDto, 0, len(accounts))}
	for _, a := range accounts {
		list.Cards = append(list.Cards, dtos.ToCardDto(a))
	}
	s.logger.Debug("cards_listed", zap.String(pkg.TraceId, pkg.TraceIDFrom(ctx)), zap.Int("count", list.Count))
	return list, nil
}
