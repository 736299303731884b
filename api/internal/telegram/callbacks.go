package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"babmutna-bot/api/internal/navigation"
)

func (r *Router) handleCallback(ctx context.Context, cb tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		r.answer(cb.ID, "")
		return
	}
	cid := cb.Message.Chat.ID

	s, ok := r.Sessions.get(cid)
	if !ok || !s.view.isCurrent(cb.Message.MessageID) {
		r.answer(cb.ID, textExpiredButton)
		return
	}

	ev, ok := r.callbackEvent(ctx, s, cb.Data)
	if !ok {
		r.answer(cb.ID, textExpiredButton)
		return
	}
	err := s.ctrl.Dispatch(ctx, ev)
	r.answer(cb.ID, callbackErrorText(err))
	if err != nil && !errors.Is(err, navigation.ErrInvalidTransition) {
		r.log().Debug("callback rejected",
			zap.Int64("chat_id", cid), zap.String("data", cb.Data), zap.Error(err))
	}
}

func (r *Router) callbackEvent(ctx context.Context, s *session, data string) (navigation.Event, bool) {
	switch data {
	case cbConfirm:
		return navigation.ConfirmPick{}, true
	case cbRoulette:
		return navigation.OpenRoulette{}, true
	case cbSpin, cbRespin:
		return navigation.Spin{}, true
	case cbRouletteConfirm:
		return navigation.ConfirmRoulette{}, true
	case cbBack:
		return navigation.Back{}, true
	case cbRecipe:
		return navigation.RequestRecipe{Servings: 1}, true
	case cbDismiss:
		return navigation.DismissError{}, true
	}

	idx, found := strings.CutPrefix(data, cbPick)
	if !found {
		return nil, false
	}
	i, err := strconv.Atoi(idx)
	if err != nil {
		return nil, false
	}
	snap, err := s.ctrl.Snapshot(ctx)
	if err != nil || snap.Recommendation == nil || i < 0 || i >= len(snap.Recommendation.Recommendations) {
		return nil, false
	}
	return navigation.SelectItem{Menu: snap.Recommendation.Recommendations[i].Menu}, true
}

func callbackErrorText(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, navigation.ErrNothingSelected):
		return textPickFirst
	case errors.Is(err, navigation.ErrSpinning):
		return textSpinning
	case errors.Is(err, navigation.ErrNoResult):
		return textSpinFirst
	case errors.Is(err, navigation.ErrUnknownMenu), errors.Is(err, navigation.ErrStopped):
		return textExpiredButton
	default:
		return textUnavailable
	}
}

func (r *Router) answer(callbackID, text string) {
	_, _ = r.Bot.Request(tgbotapi.NewCallback(callbackID, text))
}
