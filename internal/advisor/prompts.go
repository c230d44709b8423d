package advisor

import (
	"fmt"
	"strings"

	"github.com/moexbonds/moexbonds/pkg/models"
	"github.com/moexbonds/moexbonds/pkg/utils"
)

// SystemPrompt frames every request.
const SystemPrompt = `Ты профессиональный финансовый аналитик, специализирующийся на рынке облигаций РФ (Московская биржа).
Отвечай строго на русском языке. Не выдумывай данные: опирайся только на переданные цифры.`

// DefaultMarketQuery is used when the user asks nothing specific.
const DefaultMarketQuery = "Порекомендуй что-нибудь надежное с хорошей доходностью"

// MarketPrompt builds the user prompt for a market-wide recommendation.
// rowsJSON is the compact JSON array of candidate bonds.
func MarketPrompt(query, rowsJSON string, headlines []models.NewsItem) string {
	if strings.TrimSpace(query) == "" {
		query = DefaultMarketQuery
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Запрос пользователя: %q\n\n", query)
	b.WriteString("Список наиболее ликвидных облигаций, прошедших фильтры (JSON):\n")
	b.WriteString(rowsJSON)
	b.WriteString("\n\n")

	if len(headlines) > 0 {
		b.WriteString("Свежие новости рынка:\n")
		for _, h := range headlines {
			fmt.Fprintf(&b, "- %s (%s)\n", h.Title, h.PublishedAt.In(utils.MSK).Format("02.01.2006"))
		}
		b.WriteString("\n")
	}

	b.WriteString(`Задача:
1. Проанализируй облигации с учетом цели пользователя.
2. Порекомендуй ровно 3 облигации из списка.
3. Для каждой объясни, почему она подходит: доходность против риска, срок до погашения, ликвидность.
4. Учитывай оферту (OfferDate) и плавающий купон (IsFloater), если это важно для запроса.
5. Оформи ответ в Markdown, выделяя тикеры и доходности жирным.

Если запрос размытый, исходи из сбалансированной стратегии: доходность выше 15% без откровенно мусорных выпусков.`)
	return b.String()
}

// BondPrompt builds the user prompt for a single-bond verdict.
func BondPrompt(rb models.RatedBond, macro models.MacroContext) string {
	offer := "нет"
	if rb.OfferDate != nil {
		offer = rb.OfferDate.String()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Проанализируй облигацию и ответь, стоит ли покупать ее сейчас.\n\n")
	fmt.Fprintf(&b, "Контекст рынка (на %s): ключевая ставка ЦБ РФ %s, инфляция %s.\n\n",
		macro.Date, utils.FormatPct(macro.KeyRate), utils.FormatPct(macro.Inflation))

	b.WriteString("Данные облигации:\n")
	fmt.Fprintf(&b, "- Тикер: %s\n", rb.SecID)
	fmt.Fprintf(&b, "- Название: %s\n", rb.ShortName)
	fmt.Fprintf(&b, "- Цена: %s от номинала\n", utils.FormatPct(rb.Price))
	fmt.Fprintf(&b, "- Доходность: %s\n", utils.FormatPct(rb.Yield))
	fmt.Fprintf(&b, "- Купон: %s, выплат в год: %d\n", utils.FormatPct(rb.CouponPercent), rb.CouponFrequency)
	fmt.Fprintf(&b, "- Погашение: %s (через %d дн.)\n", rb.MaturityDate, rb.DurationDays)
	fmt.Fprintf(&b, "- Объем торгов за день: %s\n", utils.FormatRUB(rb.Volume))
	fmt.Fprintf(&b, "- Оферта: %s\n", offer)
	fmt.Fprintf(&b, "- Флоатер: %s\n", yesNo(rb.IsFloater))
	fmt.Fprintf(&b, "- Амортизация: %s\n", yesNo(rb.IsAmortized))
	fmt.Fprintf(&b, "- Уровень листинга: %d\n", rb.ListLevel)
	fmt.Fprintf(&b, "- Валюта: %s\n", rb.Currency)
	if rb.Rating != models.RatingNone {
		fmt.Fprintf(&b, "- Отметка скринера: %s\n", rb.Rating)
	}

	fmt.Fprintf(&b, `
Твоя задача:
1. Дай четкий вердикт: "Покупать", "Держать", "Продавать" или "Рискованно".
2. Обоснуй решение через соотношение риска и доходности.
3. Сравни доходность с ключевой ставкой (%s).
4. Перечисли главные плюсы и минусы выпуска.
5. Оформи ответ в Markdown.`, utils.FormatPct(macro.KeyRate))
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "да"
	}
	return "нет"
}
