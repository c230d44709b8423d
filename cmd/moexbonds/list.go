package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/moexbonds/moexbonds/internal/screener"
	"github.com/moexbonds/moexbonds/pkg/models"
	"github.com/moexbonds/moexbonds/pkg/utils"
)

// --- List Command ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Screen bonds and print the current page",
	Long: `Fetch the bond boards, apply filters and sorting, and print one page.

Examples:
  moexbonds list
  moexbonds list --min-yield 18 --max-duration 720 --sort yield
  moexbonds list --best --page-size 0
  moexbonds list -q сегежа
  moexbonds list --preset "Высокая доходность" --page 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}

		sess := screener.NewSession(cfg.Screener.Defaults.ViewState())
		if name, _ := cmd.Flags().GetString("preset"); name != "" {
			p, err := a.Store.Preset(name)
			if err != nil {
				return err
			}
			sess.ApplyPreset(p)
		}
		if err := applyListFlags(cmd.Flags(), sess); err != nil {
			return err
		}

		if err := a.Service.EnsureLoaded(cmd.Context()); err != nil {
			return err
		}
		favs := a.Favorites()
		res := sess.Recompute(a.Service.Pipeline(), a.Service.Bonds(), favs)
		if page, _ := cmd.Flags().GetString("page"); page != "" {
			if sess.GoToPageInput(page) {
				res = sess.Recompute(a.Service.Pipeline(), a.Service.Bonds(), favs)
			} else {
				fmt.Fprintf(os.Stderr, "page %q ignored (1..%d)\n", page, res.TotalPages)
			}
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, res)
		}
		fmt.Print(renderResult(res, favs))
		return nil
	},
}

func init() {
	f := listCmd.Flags()
	f.AddFlagSet(filterFlagSet())
	f.String("sort", "", "sort field: "+sortFieldList())
	f.String("order", "", "asc or desc")
	f.Int("page-size", -1, "rows per page (0 = all)")
	f.String("page", "", "page number")
	f.String("preset", "", "start from a saved preset (ID or name)")
	f.Bool("json", false, "print the result as JSON")
}

// filterFlagSet declares one flag per filter field. Only flags the user
// sets override the starting filters.
func filterFlagSet() *pflag.FlagSet {
	f := pflag.NewFlagSet("filters", pflag.ContinueOnError)
	f.Float64("min-yield", 0, "minimum yield, % p.a.")
	f.Float64("max-price", 0, "maximum price, % of face (0 = no bound)")
	f.Float64("min-volume", 0, "minimum traded value today, RUB")
	f.Int("max-duration", 0, "maximum days to maturity (0 = no bound)")
	f.StringP("search", "q", "", "search SECID, ISIN or name (ignores the best-buys toggle)")
	f.Int("list-level", 0, "listing level 1-3 (0 = any)")
	f.Int("coupon-freq", 0, "coupons per year (0 = any)")
	f.String("currency", "", "settlement currency, e.g. RUB, USD (all = any)")
	f.String("bond-type", "", "government, municipal, high_yield, corporate (all = any)")
	f.String("floater", "", "floating coupon: all, only, exclude")
	f.String("amortized", "", "amortizing principal: all, only, exclude")
	f.String("has-offer", "", "put/call offer: all, only, exclude")
	f.Int("offer-within", 0, "offer date within N days")
	f.Float64("min-accrued", 0, "minimum accrued interest, RUB")
	f.Float64("max-accrued", 0, "maximum accrued interest, RUB")
	f.Bool("best", false, "only GEM, SAFE and HIGH_YIELD rated bonds")
	f.Bool("favorites", false, "only favorites")
	return f
}

// applyListFlags applies the flags the user set on top of the session's
// current view.
func applyListFlags(f *pflag.FlagSet, sess *screener.Session) error {
	var ferr error
	sess.UpdateFilters(func(c *models.FilterConfig) {
		ferr = applyFilterFlags(f, c)
	})
	if ferr != nil {
		return ferr
	}

	key := sess.State().Sort
	if f.Changed("sort") {
		v, _ := f.GetString("sort")
		field, err := models.ParseSortField(v)
		if err != nil {
			return err
		}
		key.Field = field
	}
	if f.Changed("order") {
		v, _ := f.GetString("order")
		order, err := models.ParseSortOrder(v)
		if err != nil {
			return err
		}
		key.Order = order
	}
	sess.SetSort(key)

	if f.Changed("page-size") {
		n, _ := f.GetInt("page-size")
		if !sess.SetPageSize(n) {
			return fmt.Errorf("invalid page size %d", n)
		}
	}
	return nil
}

func applyFilterFlags(f *pflag.FlagSet, c *models.FilterConfig) error {
	if f.Changed("min-yield") {
		c.MinYield, _ = f.GetFloat64("min-yield")
	}
	if f.Changed("max-price") {
		c.MaxPrice, _ = f.GetFloat64("max-price")
	}
	if f.Changed("min-volume") {
		c.MinVolume, _ = f.GetFloat64("min-volume")
	}
	if f.Changed("max-duration") {
		c.MaxDurationDays, _ = f.GetInt("max-duration")
	}
	if f.Changed("search") {
		c.SearchText, _ = f.GetString("search")
	}
	if f.Changed("list-level") {
		c.ListLevel, _ = f.GetInt("list-level")
	}
	if f.Changed("coupon-freq") {
		c.CouponFrequency, _ = f.GetInt("coupon-freq")
	}
	if f.Changed("currency") {
		c.Currency, _ = f.GetString("currency")
	}
	if f.Changed("bond-type") {
		v, _ := f.GetString("bond-type")
		bt, err := models.ParseBondType(v)
		if err != nil {
			return err
		}
		c.BondType = bt
	}
	for flag, dst := range map[string]*models.TriState{
		"floater":   &c.Floater,
		"amortized": &c.Amortized,
		"has-offer": &c.HasOffer,
	} {
		if !f.Changed(flag) {
			continue
		}
		v, _ := f.GetString(flag)
		t, err := models.ParseTriState(v)
		if err != nil {
			return fmt.Errorf("--%s: %w", flag, err)
		}
		*dst = t
	}
	if f.Changed("offer-within") {
		n, _ := f.GetInt("offer-within")
		c.OfferWithinDays = &n
	}
	if f.Changed("min-accrued") {
		v, _ := f.GetFloat64("min-accrued")
		c.MinAccrued = &v
	}
	if f.Changed("max-accrued") {
		v, _ := f.GetFloat64("max-accrued")
		c.MaxAccrued = &v
	}
	if f.Changed("best") {
		c.BestBuysOnly, _ = f.GetBool("best")
	}
	if f.Changed("favorites") {
		c.FavoritesOnly, _ = f.GetBool("favorites")
	}
	return nil
}

func sortFieldList() string {
	names := make([]string, len(models.SortFields))
	for i, f := range models.SortFields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// renderResult prints the visible page as a table followed by a summary.
func renderResult(res screener.Result, favs models.Favorites) string {
	if res.ResultCount == 0 {
		return fmt.Sprintf("Ничего не найдено (всего облигаций: %d). Ослабьте фильтры.\n", res.TotalCount)
	}

	s := &strings.Builder{}
	table := tablewriter.NewWriter(s)
	table.SetHeader([]string{"#", "SECID", "Название", "Цена", "Доходн.", "Купон", "Выпл/год", "Погашение", "Дней", "Оборот", "Ур.", "Оценка"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for i, rb := range res.Items {
		name := rb.ShortName
		if favs.Has(rb.SecID) {
			name = "★ " + name
		}
		if rb.IsFloater {
			name += " (флоатер)"
		}
		table.Append([]string{
			strconv.Itoa(res.From + i),
			rb.SecID,
			name,
			utils.FormatPrice(rb.Price),
			utils.FormatPct(rb.Yield),
			utils.FormatPct(rb.CouponPercent),
			strconv.Itoa(rb.CouponFrequency),
			rb.MaturityDate.String(),
			strconv.Itoa(rb.DurationDays),
			utils.FormatRUBCompact(rb.Volume),
			strconv.Itoa(rb.ListLevel),
			rb.Rating.Label(),
		})
	}
	table.Render()

	fmt.Fprintf(s, "\nПоказано %d–%d из %d (всего %d) · страница %d/%d · сортировка %s · средняя доходность %s\n",
		res.From, res.To, res.ResultCount, res.TotalCount, res.Page, res.TotalPages,
		res.View.Sort, utils.FormatPct(res.AvgYield))
	return s.String()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Show Command ---

var showCmd = &cobra.Command{
	Use:   "show [secid]",
	Short: "Show one bond with its rating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		if err := a.Service.EnsureLoaded(cmd.Context()); err != nil {
			return err
		}
		rb, err := a.Service.Lookup(utils.NormalizeSecID(args[0]))
		if err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(os.Stdout, rb)
		}
		fmt.Print(renderBond(rb, a.Favorites().Has(rb.SecID)))
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("json", false, "print the bond as JSON")
}

func renderBond(rb models.RatedBond, favorite bool) string {
	s := &strings.Builder{}
	star := ""
	if favorite {
		star = " ★"
	}
	fmt.Fprintf(s, "%s — %s%s\n", rb.SecID, rb.ShortName, star)
	if rb.Rating != models.RatingNone {
		fmt.Fprintf(s, "%s\n", rb.Rating.Label())
	}
	fmt.Fprintln(s)

	row := func(label, value string) { fmt.Fprintf(s, "  %-22s %s\n", label+":", value) }
	row("ISIN", orDash(rb.ISIN))
	row("Режим торгов", rb.Board)
	row("Цена", utils.FormatPrice(rb.Price)+"% от номинала")
	row("Доходность", utils.FormatPct(rb.Yield))
	if rb.YieldToOffer != nil {
		row("Доходность к оферте", utils.FormatPct(*rb.YieldToOffer))
	}
	row("Купон", fmt.Sprintf("%s, %d раз в год", utils.FormatPct(rb.CouponPercent), rb.CouponFrequency))
	if rb.CouponValue > 0 {
		row("Размер купона", utils.FormatRUB(rb.CouponValue))
	}
	if rb.AccruedInterest != nil {
		row("НКД", utils.FormatRUB(*rb.AccruedInterest))
	}
	row("Погашение", fmt.Sprintf("%s (через %d дн.)", rb.MaturityDate, rb.DurationDays))
	if rb.OfferDate != nil {
		row("Оферта", rb.OfferDate.String())
	}
	if rb.NextCouponDate != nil {
		row("Следующий купон", rb.NextCouponDate.String())
	}
	row("Номинал", fmt.Sprintf("%s %s", utils.FormatPrice(rb.FaceValue), rb.Currency))
	row("Оборот сегодня", utils.FormatRUBCompact(rb.Volume))
	row("Уровень листинга", strconv.Itoa(rb.ListLevel))
	row("Флоатер", yesNo(rb.IsFloater))
	row("Амортизация", yesNo(rb.IsAmortized))
	return s.String()
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "да"
	}
	return "нет"
}
