package telegram

import (
	"fmt"
	"sort"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/camuig/volscan/internal/config"
	"github.com/camuig/volscan/internal/signal"
	"github.com/camuig/volscan/internal/storage"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	bot     sender
	chatID  int64
	enabled bool
	logger  zerolog.Logger
}

func NewNotifier(cfg config.TelegramConfig, log zerolog.Logger) *Notifier {
	log = log.With().Str("component", "telegram").Logger()
	if !cfg.Enabled {
		return &Notifier{enabled: false, logger: log}
	}

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Error().Err(err).Msg("failed to create telegram bot")
		return &Notifier{enabled: false, logger: log}
	}

	log.Info().Str("username", bot.Self.UserName).Msg("telegram bot connected")

	return &Notifier{
		bot:     bot,
		chatID:  cfg.ChatID,
		enabled: true,
		logger:  log,
	}
}

func (n *Notifier) Enabled() bool {
	return n.enabled
}

func (n *Notifier) NotifySignal(s signal.TradingSignal) {
	n.send(FormatSignal(s))
}

func (n *Notifier) NotifySummary(signals []signal.TradingSignal, scanned, recorded int) {
	n.send(FormatSummary(signals, scanned, recorded))
}

func (n *Notifier) NotifyResolution(p storage.Prediction) {
	n.send(FormatResolution(p))
}

func (n *Notifier) NotifyError(context string, err error) {
	msg := fmt.Sprintf("⚠️ *Error* [%s]\n%v", context, err)
	n.send(msg)
}

func (n *Notifier) NotifyStatus(message string) {
	n.send(message)
}

func (n *Notifier) send(text string) {
	if !n.enabled {
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("send telegram message")
	}
}

var metricLabels = map[signal.Metric]string{
	signal.MetricRSI:           "RSI",
	signal.MetricIVRank:        "IV Rank",
	signal.MetricATRPercentile: "ATR %ile",
	signal.MetricBBPBand:       "BB %B",
	signal.MetricBBWidth:       "BB Width",
	signal.MetricHV:            "HV %",
	signal.MetricHVRank:        "HV Rank",
}

func FormatSignal(s signal.TradingSignal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s* %s\n", s.Type.Emoji(), s.Type, s.Symbol)
	fmt.Fprintf(&b, "Strength: %s (%d pts)\n", strings.ReplaceAll(s.Strength.String(), "_", " "), s.Points)
	fmt.Fprintf(&b, "Price: $%.2f\n", s.CurrentPrice)
	if s.SuggestedStrike != nil {
		fmt.Fprintf(&b, "Strike: $%.2f\n", *s.SuggestedStrike)
	}
	if s.TargetPrice != nil {
		fmt.Fprintf(&b, "Target: $%.2f\n", *s.TargetPrice)
	}
	if s.StopLoss != nil {
		fmt.Fprintf(&b, "Stop: $%.2f\n", *s.StopLoss)
	}
	if s.RiskReward != nil {
		fmt.Fprintf(&b, "R/R: %.2f\n", *s.RiskReward)
	}
	fmt.Fprintf(&b, "Expiry: ~%dd | Delta: %.2f\n", s.SuggestedExpiryDays, s.SuggestedDelta)

	if len(s.KeyMetrics) > 0 {
		keys := make([]signal.Metric, 0, len(s.KeyMetrics))
		for k := range s.KeyMetrics {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s %g", metricLabels[k], s.KeyMetrics[k]))
		}
		b.WriteString(strings.Join(parts, " | "))
		b.WriteString("\n")
	}
	b.WriteString(s.Rationale)
	return b.String()
}

func FormatSummary(signals []signal.TradingSignal, scanned, recorded int) string {
	counts := make(map[signal.Type]int)
	for _, s := range signals {
		counts[s.Type]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Scan complete*\nScanned: %d\nSignals: %d\nRecorded: %d\n", scanned, len(signals), recorded)
	for _, t := range signal.Types {
		if c := counts[t]; c > 0 {
			fmt.Fprintf(&b, "%s %s: %d\n", t.Emoji(), t, c)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func FormatResolution(p storage.Prediction) string {
	emoji := "⏳"
	switch p.Status {
	case storage.StatusWin:
		emoji = "✅"
	case storage.StatusLoss:
		emoji = "❌"
	case storage.StatusExpired, storage.StatusCancelled:
		emoji = "⏹"
	}

	typ := p.SignalType
	if t, err := signal.ParseType(typ); err == nil {
		typ = t.String()
	}

	msg := fmt.Sprintf("%s *%s* %s #%d\nEntry: $%.2f", emoji, strings.ToUpper(string(p.Status)), p.Symbol, p.ID, p.EntryPrice)
	msg += " (" + typ + ")"
	if p.OutcomePrice != nil {
		msg += fmt.Sprintf("\nExit: $%.2f", *p.OutcomePrice)
	}
	if p.ProfitPct != nil {
		msg += fmt.Sprintf("\nP&L: %+.2f%%", *p.ProfitPct)
	}
	return msg
}
