package explain

import (
	"fmt"
	"strings"

	"github.com/kotori-note/kabunote/pkg/models"
)

// BuildPrompt renders the generation prompt for a chart. It returns "" for
// an empty series.
func BuildPrompt(code, period string, points []models.PricePoint, ind models.Indicators) string {
	if len(points) == 0 {
		return ""
	}
	latest := points[len(points)-1]

	var change float64
	if len(points) >= 2 {
		if prev := points[len(points)-2].Close; prev != 0 {
			change = (latest.Close - prev) / prev * 100
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "株式コード %s の%sチャート分析をお願いします。\n\n", code, period)
	b.WriteString("【現在の状況】\n")
	fmt.Fprintf(&b, "- 現在価格: %.2f円\n", latest.Close)
	fmt.Fprintf(&b, "- 前日比: %+.2f%%\n", change)
	fmt.Fprintf(&b, "- 出来高: %s株\n\n", groupDigits(latest.Volume))
	b.WriteString("【テクニカル指標】\n")
	fmt.Fprintf(&b, "- SMA25日: %s\n", movingAverage(ind.SMA25, latest.Close))
	fmt.Fprintf(&b, "- SMA75日: %s\n", movingAverage(ind.SMA75, latest.Close))
	fmt.Fprintf(&b, "- RSI(14日): %s\n", format(ind.RSI14, "%.1f"))
	fmt.Fprintf(&b, "- MACD: %s (シグナル: %s)\n\n", format(ind.MACDLine, "%.3f"), format(ind.MACDSignal, "%.3f"))
	b.WriteString("【分析依頼】\n")
	b.WriteString("投資初心者向けに、以下の点で分析してください：\n")
	b.WriteString("1. 現在のトレンド状況（上昇・下降・横ばい）\n")
	b.WriteString("2. テクニカル指標から読み取れる状況\n")
	b.WriteString("3. 初心者向けのやさしいアドバイス\n\n")
	b.WriteString("【注意事項】\n")
	b.WriteString("- 具体的な売買判断は避けてください\n")
	b.WriteString("- やさしく分かりやすい言葉で説明してください\n")
	b.WriteString("- 150文字以内でお願いします\n")
	b.WriteString("- 最後に「投資判断はご自身でお決めください」を追加してください\n")
	return b.String()
}

func movingAverage(v *float64, price float64) string {
	if v == nil {
		return "データ不足"
	}
	return fmt.Sprintf("%.2f円 (現在価格との差: %.2f円)", *v, price-*v)
}

func format(v *float64, layout string) string {
	if v == nil {
		return "データ不足"
	}
	return fmt.Sprintf(layout, *v)
}

func groupDigits(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

// MockExplanation builds a templated explanation from indicators alone.
// The same inputs always give the same text.
func MockExplanation(code string, ind models.Indicators) string {
	trend := "横ばい"
	if ind.SMA25 != nil && ind.SMA75 != nil {
		if *ind.SMA25 > *ind.SMA75 {
			trend = "上昇トレンド"
		} else {
			trend = "下降トレンド"
		}
	}

	rsi := "適正水準"
	if ind.RSI14 != nil {
		switch {
		case *ind.RSI14 > 70:
			rsi = "買われすぎ"
		case *ind.RSI14 < 30:
			rsi = "売られすぎ"
		}
	}

	momentum := "下降の勢いがみられます"
	if ind.MACDHistogram != nil && *ind.MACDHistogram > 0 {
		momentum = "上昇の勢いがあります"
	}

	return fmt.Sprintf("現在、%sは%sにあります。\n"+
		"RSIは%sの状態で、%s。\n"+
		"短期移動平均線が長期線を上回っている場合は比較的良好な状況ですが、\n"+
		"投資判断はご自身でお決めください。", code, trend, rsi, momentum)
}
