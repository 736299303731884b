package telegram

import (
	"context"
	"reflect"
	"strings"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"babmutna-bot/api/internal/navigation"
)

// screenView renders one chat's snapshots. While the screen kind stays the
// same the last message is edited in place; a new screen gets a new message.
// Render is only called from the controller loop, so no locking is needed.
type screenView struct {
	r      *Router
	chatID int64

	lastKind   navigation.ScreenKind
	lastMsgID  int
	lastText   string
	lastInline *tgbotapi.InlineKeyboardMarkup

	// current is lastMsgID readable from the update goroutine
	current atomic.Int64
}

func newScreenView(r *Router, chatID int64) *screenView {
	return &screenView{r: r, chatID: chatID}
}

func (sv *screenView) Render(s navigation.Snapshot) {
	v := buildView(s, sv.lastKind)

	sameScreen := s.Screen == sv.lastKind && sv.lastMsgID != 0
	if sameScreen && v.reply == nil {
		if v.text == sv.lastText && reflect.DeepEqual(v.inline, sv.lastInline) {
			return
		}
		if sv.edit(v) {
			sv.remember(s.Screen, sv.lastMsgID, v)
			return
		}
	}
	// the previous screen's buttons must not stay clickable
	sv.clearButtons()

	msg := tgbotapi.NewMessage(sv.chatID, v.text)
	switch {
	case v.reply != nil:
		msg.ReplyMarkup = v.reply
	case v.inline != nil:
		msg.ReplyMarkup = *v.inline
	}
	sent, err := sv.r.sendChattable(msg)
	if err != nil {
		return
	}
	sv.remember(s.Screen, sent.MessageID, v)
}

func (sv *screenView) edit(v view) bool {
	var c tgbotapi.Chattable
	if v.inline != nil {
		c = tgbotapi.NewEditMessageTextAndMarkup(sv.chatID, sv.lastMsgID, v.text, *v.inline)
	} else {
		c = tgbotapi.NewEditMessageText(sv.chatID, sv.lastMsgID, v.text)
	}
	_, err := sv.r.sendChattable(c)
	if err != nil && strings.Contains(err.Error(), "message is not modified") {
		return true
	}
	return err == nil
}

func (sv *screenView) clearButtons() {
	if sv.lastMsgID == 0 || sv.lastInline == nil {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(sv.chatID, sv.lastMsgID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, _ = sv.r.sendChattable(edit)
}

func (sv *screenView) remember(kind navigation.ScreenKind, msgID int, v view) {
	sv.lastKind = kind
	sv.lastMsgID = msgID
	sv.lastText = v.text
	sv.lastInline = v.inline
	sv.current.Store(int64(msgID))
}

// isCurrent reports whether msgID is the message showing the live screen.
func (sv *screenView) isCurrent(msgID int) bool {
	return sv.current.Load() == int64(msgID)
}

func (r *Router) sendChattable(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if r.Limiter != nil {
		if err := r.Limiter.Wait(context.Background()); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	m, err := r.Bot.Send(c)
	if err != nil && !strings.Contains(err.Error(), "message is not modified") {
		r.log().Warn("telegram send failed", zap.Error(err))
	}
	return m, err
}
