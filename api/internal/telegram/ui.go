package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"babmutna-bot/api/internal/lunch"
	"babmutna-bot/api/internal/navigation"
)

// Callback payloads.
const (
	cbPick            = "pick:"
	cbConfirm         = "confirm"
	cbRoulette        = "roulette"
	cbSpin            = "spin"
	cbRespin          = "respin"
	cbRouletteConfirm = "roulette_confirm"
	cbBack            = "back"
	cbRecipe          = "recipe"
	cbDismiss         = "dismiss"
)

const (
	btnShareLocation = "📍 위치 보내기"
	btnSkipLocation  = "위치 없이 진행"
)

const maxMessageLen = 3900

// view is one rendered screen. reply holds a reply keyboard (or its removal)
// and forces a new message, since edits can only carry inline keyboards.
type view struct {
	text   string
	inline *tgbotapi.InlineKeyboardMarkup
	reply  any
}

func buildView(s navigation.Snapshot, prev navigation.ScreenKind) view {
	var v view
	switch s.Screen {
	case navigation.KindAcquiringLocation:
		v = locationView(s)
	case navigation.KindCollectingInput:
		v = inputView(s)
		if prev == navigation.KindAcquiringLocation {
			v.reply = tgbotapi.NewRemoveKeyboard(true)
		}
	case navigation.KindPresentingResult:
		v = resultView(s)
	case navigation.KindRoulette:
		v = rouletteView(s)
	case navigation.KindRestaurantLookup:
		v = lookupView(s)
	default:
		v = view{text: "알 수 없는 화면입니다. /start 로 다시 시작해주세요."}
	}
	if s.Notice != "" {
		v.text += "\n\nℹ️ " + s.Notice
	}
	if len(v.text) > maxMessageLen {
		v.text = truncate(v.text, maxMessageLen)
	}
	return v
}

func locationView(s navigation.Snapshot) view {
	if s.Permission == lunch.PermissionDenied {
		// the share-location keyboard stays up until the flow advances
		return view{text: "⚠️ 위치 정보 접근이 거부되었습니다\n기본 위치(" + s.Location + ")로 진행합니다."}
	}
	kb := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(
		tgbotapi.NewKeyboardButtonLocation(btnShareLocation),
		tgbotapi.NewKeyboardButton(btnSkipLocation),
	))
	kb.OneTimeKeyboard = true
	kb.ResizeKeyboard = true
	return view{
		text:  "📍 위치 정보 접근\n날씨 정보와 주변 식당 검색을 위해 위치 정보가 필요합니다.\n아래 버튼으로 위치를 보내주세요.",
		reply: kb,
	}
}

func inputView(s navigation.Snapshot) view {
	var b strings.Builder
	b.WriteString("🍱 밥뭇나?!\n")
	if w := weatherLine(s.Weather); w != "" {
		b.WriteString(w)
		b.WriteString("\n")
	}
	b.WriteString("\n오늘 구내식당 메뉴를 입력해주세요.\n예: 제육볶음, 된장찌개, 계란말이")
	if s.Loading {
		b.WriteString("\n\n🤖 AI가 메뉴를 분석중...")
	}
	v := view{}
	if s.Error != "" {
		b.WriteString("\n\n❌ " + s.Error)
		kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✕ 닫기", cbDismiss),
		))
		v.inline = &kb
	}
	v.text = b.String()
	return v
}

func resultView(s navigation.Snapshot) view {
	set := s.Recommendation
	var b strings.Builder
	if set != nil {
		fmt.Fprintf(&b, "🍽 오늘 구내식당: %s\n", set.CafeteriaMenu)
		if set.WeatherSummary != "" {
			b.WriteString("🌤 " + set.WeatherSummary + "\n")
		}
	}
	b.WriteString("\n메뉴를 골라주세요.\n")

	var rows [][]tgbotapi.InlineKeyboardButton
	if set != nil {
		for i, it := range set.Recommendations {
			mark := "⭐"
			if s.Candidate != nil && s.Candidate.Menu == it.Menu {
				mark = "✅"
			}
			fmt.Fprintf(&b, "\n%s %d. %s\n", mark, i+1, itemLine(it))
			if it.Reason != "" {
				b.WriteString("   " + it.Reason + "\n")
			}
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(mark+" "+it.Menu, cbPick+strconv.Itoa(i)),
			))
		}
	}

	confirm := "✓ 메뉴를 선택하세요"
	if s.CanConfirm && s.Candidate != nil {
		confirm = "✓ " + s.Candidate.Menu + "(으)로 결정"
	}
	rows = append(rows,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(confirm, cbConfirm)),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎰 룰렛으로 정하기", cbRoulette),
			tgbotapi.NewInlineKeyboardButtonData("← 뒤로가기", cbBack),
		),
	)
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return view{text: b.String(), inline: &kb}
}

func rouletteView(s navigation.Snapshot) view {
	var b strings.Builder
	b.WriteString("🎰 메뉴 룰렛\n운명에 맡겨보세요!\n")
	if set := s.Recommendation; set != nil {
		names := make([]string, 0, len(set.Recommendations))
		for _, it := range set.Recommendations {
			names = append(names, it.Menu)
		}
		b.WriteString("\n" + strings.Join(names, " · ") + "\n")
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	switch {
	case s.Spinning:
		b.WriteString("\n🎲 돌리는 중...")
	case s.RouletteResult != nil:
		it := s.RouletteResult
		fmt.Fprintf(&b, "\n🎉 %s\n%s", it.Menu, itemMeta(*it))
		if it.Reason != "" {
			b.WriteString("\n" + it.Reason)
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 다시 돌리기", cbRespin),
			tgbotapi.NewInlineKeyboardButtonData("✓ 이 메뉴로 결정!", cbRouletteConfirm),
		))
	default:
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎲 룰렛 돌리기!", cbSpin),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("← 뒤로가기", cbBack),
	))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return view{text: b.String(), inline: &kb}
}

func lookupView(s navigation.Snapshot) view {
	var b strings.Builder
	fmt.Fprintf(&b, "🍽 %s 주변 식당\n", s.SelectedMenu)
	if s.Permission != lunch.PermissionGranted {
		b.WriteString("(기본 위치 " + s.Location + " 기준)\n")
	}

	switch {
	case s.PlacesPending:
		b.WriteString("\n🔎 검색 중...")
	case len(s.Places) == 0:
		b.WriteString("\n주변에서 식당을 찾지 못했습니다.")
	default:
		for i, p := range s.Places {
			fmt.Fprintf(&b, "\n%d. %s", i+1, p.Name)
			if p.Category != "" {
				b.WriteString(" · " + p.Category)
			}
			if p.DistanceM > 0 {
				b.WriteString(" · " + formatDistance(p.DistanceM))
			}
			if p.Address != "" {
				b.WriteString("\n   " + p.Address)
			}
			if p.URL != "" {
				b.WriteString("\n   " + p.URL)
			}
		}
	}

	if r := s.Recipe; r != nil {
		b.WriteString("\n\n" + formatRecipe(*r))
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	if s.Recipe == nil {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📖 레시피 보기", cbRecipe),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("← 처음으로", cbBack),
	))
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return view{text: b.String(), inline: &kb}
}

func weatherLine(w *lunch.WeatherSnapshot) string {
	if w == nil {
		return ""
	}
	line := fmt.Sprintf("%s %s %.0f°C %s", skyEmoji(w.SkyCondition), w.Location, w.Temperature, w.SkyCondition)
	if w.Precipitation != "" && w.Precipitation != "없음" {
		line += " · " + w.Precipitation
	}
	return line
}

func skyEmoji(sky string) string {
	switch {
	case strings.Contains(sky, "비"):
		return "🌧"
	case strings.Contains(sky, "눈"):
		return "❄️"
	case strings.Contains(sky, "흐림"), strings.Contains(sky, "구름"):
		return "☁️"
	default:
		return "☀️"
	}
}

func itemLine(it lunch.RecommendationItem) string {
	if meta := itemMeta(it); meta != "" {
		return it.Menu + " (" + meta + ")"
	}
	return it.Menu
}

func itemMeta(it lunch.RecommendationItem) string {
	var parts []string
	for _, p := range []string{it.Type, it.Category, it.PriceRange} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if it.Distance != nil && it.Distance.WalkingMin > 0 {
		parts = append(parts, fmt.Sprintf("도보 %.0f분", it.Distance.WalkingMin))
	}
	return strings.Join(parts, " · ")
}

func formatDistance(m int) string {
	if m >= 1000 {
		return fmt.Sprintf("%.1fkm", float64(m)/1000)
	}
	return strconv.Itoa(m) + "m"
}

func formatRecipe(r lunch.Recipe) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📖 %s 레시피 (%d인분)", r.MenuName, r.Servings)
	if r.CookingTime != "" || r.Difficulty != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(strings.Join([]string{r.CookingTime, r.Difficulty}, " ")))
	}
	if len(r.Ingredients) > 0 {
		b.WriteString("\n\n재료")
		for _, in := range r.Ingredients {
			b.WriteString("\n- " + strings.TrimSpace(in.Name+" "+in.Amount))
		}
	}
	if len(r.Steps) > 0 {
		b.WriteString("\n\n조리 순서")
		for i, st := range r.Steps {
			fmt.Fprintf(&b, "\n%d. %s", i+1, st)
		}
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
