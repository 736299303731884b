package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"babmutna-bot/api/internal/lunch"
	"babmutna-bot/api/internal/navigation"
	"babmutna-bot/api/internal/store"
)

// Sender is the part of *tgbotapi.BotAPI the router needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// MenuStats reports the most chosen menus.
type MenuStats interface {
	TopMenus(ctx context.Context, since time.Time, limit int) ([]store.MenuCount, error)
}

type Router struct {
	Bot      Sender
	Sessions *Sessions
	// Limiter throttles outgoing messages; nil means unlimited.
	Limiter *rate.Limiter
	// Stats backs /top; nil disables it.
	Stats MenuStats
	Log   *zap.Logger
}

func NewRouter(bot Sender, factory ControllerFactory, limiter *rate.Limiter, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		Bot:      bot,
		Sessions: NewSessions(factory, log),
		Limiter:  limiter,
		Log:      log.Named("telegram"),
	}
}

const (
	textWelcome = "🍱 밥뭇나?!\n구내식당 메뉴를 알려주시면 오늘 날씨에 맞는 점심 메뉴를 추천해드려요.\n명령어: /start, /location, /recipe, /health"
	textHelp    = "/start - 처음부터 다시 시작\n/location - 위치 공유 버튼 다시 보기\n/recipe [인분] - 선택한 메뉴의 레시피\n/top - 이번 주 인기 메뉴\n/health - 상태 확인"

	textEmptyMenu      = "메뉴를 입력해주세요."
	textBusy           = "추천을 준비하고 있어요. 잠시만 기다려주세요."
	textWaitLocation   = "먼저 위치를 보내거나 '" + btnSkipLocation + "'을 눌러주세요."
	textUseBack        = "새 메뉴를 입력하려면 '뒤로가기'를 눌러주세요."
	textForwarded      = "전달된 위치는 사용할 수 없어요. 현재 위치를 직접 보내주세요."
	textLocationFixed  = "위치는 시작할 때 한 번만 확인해요. /start 로 다시 시작할 수 있어요."
	textExpiredButton  = "만료된 버튼입니다."
	textUnavailable    = "지금은 사용할 수 없는 버튼입니다."
	textPickFirst      = "먼저 메뉴를 선택해주세요."
	textSpinning       = "룰렛이 돌아가는 중이에요."
	textSpinFirst      = "먼저 룰렛을 돌려주세요."
	textUnknownCommand = "알 수 없는 명령입니다. /help 를 확인해주세요."
	textStatsOff       = "지금은 통계를 볼 수 없어요."
)

func (r *Router) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}

func (r *Router) HandleCommand(ctx context.Context, m *tgbotapi.Message) {
	cid := m.Chat.ID
	switch m.Command() {
	case "start":
		r.send(cid, textWelcome)
		r.startSession(ctx, cid)
	case "help":
		r.send(cid, textHelp)
	case "health":
		r.send(cid, "✅ OK")
	case "top":
		r.sendTop(ctx, cid)
	case "location":
		s, ok := r.Sessions.get(cid)
		if !ok || !s.geo.Waiting() {
			r.send(cid, textLocationFixed)
			return
		}
		v := locationView(navigation.Snapshot{Permission: lunch.PermissionPending})
		msg := tgbotapi.NewMessage(cid, v.text)
		msg.ReplyMarkup = v.reply
		_, _ = r.sendChattable(msg)
	case "recipe":
		s, ok := r.Sessions.get(cid)
		if !ok {
			r.startSession(ctx, cid)
			return
		}
		servings := 1
		if arg := strings.TrimSpace(m.CommandArguments()); arg != "" {
			if n, err := strconv.Atoi(arg); err == nil && n > 0 {
				servings = n
			}
		}
		if err := s.ctrl.Dispatch(ctx, navigation.RequestRecipe{Servings: servings}); err != nil {
			r.send(cid, "레시피는 메뉴를 결정한 뒤에 볼 수 있어요.")
		}
	default:
		r.send(cid, textUnknownCommand)
	}
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	m := upd.Message
	if m == nil || m.Chat == nil {
		return
	}
	if m.IsCommand() {
		r.HandleCommand(ctx, m)
		return
	}

	cid := m.Chat.ID
	s, ok := r.Sessions.get(cid)
	if !ok {
		// first contact behaves like opening the page
		r.send(cid, textWelcome)
		r.startSession(ctx, cid)
		return
	}

	switch {
	case m.Location != nil:
		r.onLocation(s, m)
	case m.Text == btnSkipLocation:
		if !s.geo.Decline() {
			r.send(cid, textLocationFixed)
		}
	case len(m.Photo) > 0:
		fileID := m.Photo[len(m.Photo)-1].FileID
		r.submit(ctx, s, lunch.MenuInput{Method: lunch.MethodImage, Content: fileID})
	case m.Text != "":
		r.submit(ctx, s, lunch.MenuInput{Method: lunch.MethodText, Content: m.Text})
	}
}

func (r *Router) startSession(ctx context.Context, chatID int64) *session {
	return r.Sessions.start(ctx, chatID, newScreenView(r, chatID))
}

func (r *Router) onLocation(s *session, m *tgbotapi.Message) {
	if m.ForwardDate != 0 {
		r.send(s.chatID, textForwarded)
		return
	}
	c := lunch.Coordinates{Latitude: m.Location.Latitude, Longitude: m.Location.Longitude}
	if !s.geo.Deliver(c) {
		r.send(s.chatID, textLocationFixed)
	}
}

func (r *Router) submit(ctx context.Context, s *session, in lunch.MenuInput) {
	err := s.ctrl.Dispatch(ctx, navigation.SubmitMenu{Input: in})
	switch {
	case err == nil, errors.Is(err, navigation.ErrImageUnsupported):
		// the controller renders the outcome
	case errors.Is(err, navigation.ErrEmptyMenu):
		r.send(s.chatID, textEmptyMenu)
	case errors.Is(err, navigation.ErrBusy):
		r.send(s.chatID, textBusy)
	case errors.Is(err, navigation.ErrInvalidTransition):
		snap, serr := s.ctrl.Snapshot(ctx)
		if serr == nil && snap.Screen == navigation.KindAcquiringLocation {
			r.send(s.chatID, textWaitLocation)
			return
		}
		r.send(s.chatID, textUseBack)
	case errors.Is(err, navigation.ErrStopped):
		r.startSession(ctx, s.chatID)
	default:
		r.log().Warn("submit failed", zap.Int64("chat_id", s.chatID), zap.Error(err))
	}
}

func (r *Router) sendTop(ctx context.Context, chatID int64) {
	if r.Stats == nil {
		r.send(chatID, textStatsOff)
		return
	}
	top, err := r.Stats.TopMenus(ctx, time.Now().Add(-7*24*time.Hour), 5)
	if err != nil {
		r.log().Warn("top menus failed", zap.Error(err))
		r.send(chatID, textStatsOff)
		return
	}
	if len(top) == 0 {
		r.send(chatID, "아직 이번 주에 결정된 메뉴가 없어요.")
		return
	}
	var b strings.Builder
	b.WriteString("🏆 이번 주 인기 메뉴")
	for i, mc := range top {
		fmt.Fprintf(&b, "\n%d. %s (%d회)", i+1, mc.Menu, mc.Count)
	}
	r.send(chatID, b.String())
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	_, _ = r.sendChattable(msg)
}

// Shutdown stops all running sessions.
func (r *Router) Shutdown() { r.Sessions.StopAll() }
