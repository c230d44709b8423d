package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/moexbonds/moexbonds/internal/screener"
	"github.com/moexbonds/moexbonds/pkg/models"
	"github.com/moexbonds/moexbonds/pkg/utils"
)

// --- Favorites ---

var favCmd = &cobra.Command{
	Use:   "fav",
	Short: "Manage favorite bonds",
}

var favAddCmd = &cobra.Command{
	Use:   "add [secid...]",
	Short: "Star bonds",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		if err := a.Service.EnsureLoaded(cmd.Context()); err != nil {
			return err
		}
		for _, arg := range args {
			rb, err := a.Service.Lookup(utils.NormalizeSecID(arg))
			if err != nil {
				return err
			}
			if err := a.Store.AddFavorite(rb.Bond); err != nil {
				return err
			}
			fmt.Printf("★ %s %s\n", rb.SecID, rb.ShortName)
		}
		return nil
	},
}

var favRmCmd = &cobra.Command{
	Use:     "rm [secid...]",
	Aliases: []string{"remove"},
	Short:   "Unstar bonds",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		for _, arg := range args {
			if err := a.Store.RemoveFavorite(utils.NormalizeSecID(arg)); err != nil {
				return err
			}
		}
		return nil
	},
}

var favLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List favorites as saved when starred",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		favs, err := a.Store.Favorites()
		if err != nil {
			return err
		}
		if len(favs) == 0 {
			fmt.Println("Избранное пусто. Добавьте: moexbonds fav add <SECID>")
			return nil
		}
		ids := make([]string, 0, len(favs))
		for id := range favs {
			ids = append(ids, id)
		}
		slices.Sort(ids)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"SECID", "Название", "Цена", "Доходн.", "Погашение"})
		table.SetBorder(false)
		for _, id := range ids {
			b := favs[id]
			table.Append([]string{b.SecID, b.ShortName, utils.FormatPrice(b.Price), utils.FormatPct(b.Yield), b.MaturityDate.String()})
		}
		table.Render()
		return nil
	},
}

// --- Presets ---

var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Manage saved filter presets",
}

var presetSaveCmd = &cobra.Command{
	Use:   "save [name]",
	Short: "Save the configured defaults plus the given filter flags as a preset",
	Example: `  moexbonds preset save "Короткие флоатеры" --floater only --max-duration 365
  moexbonds preset save "Высокая доходность" --min-yield 22 --sort yield`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		sess := screener.NewSession(cfg.Screener.Defaults.ViewState())
		if err := applyListFlags(cmd.Flags(), sess); err != nil {
			return err
		}
		vs := sess.State()
		p, err := a.Store.SavePreset(models.Preset{
			Name:    strings.TrimSpace(args[0]),
			Filters: vs.Filters,
			Sort:    vs.Sort,
		})
		if err != nil {
			return err
		}
		fmt.Printf("saved preset %q (%s)\n", p.Name, p.ID)
		return nil
	},
}

func init() {
	f := presetSaveCmd.Flags()
	f.AddFlagSet(filterFlagSet())
	f.String("sort", "", "sort field: "+sortFieldList())
	f.String("order", "", "asc or desc")
}

var presetLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		presets, err := a.Store.Presets()
		if err != nil {
			return err
		}
		if len(presets) == 0 {
			fmt.Println("Нет сохранённых пресетов.")
			return nil
		}
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Name", "Min yield", "Max price", "Max days", "Sort", "Created"})
		table.SetBorder(false)
		for _, p := range presets {
			table.Append([]string{
				p.ID, p.Name,
				utils.FormatPct(p.Filters.MinYield),
				utils.FormatPrice(p.Filters.MaxPrice),
				fmt.Sprintf("%d", p.Filters.MaxDurationDays),
				p.Sort.String(),
				p.CreatedAt.In(utils.MSK).Format("2006-01-02 15:04"),
			})
		}
		table.Render()
		return nil
	},
}

var presetRmCmd = &cobra.Command{
	Use:     "rm [id-or-name]",
	Aliases: []string{"remove"},
	Short:   "Delete a preset",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		p, err := a.Store.Preset(args[0])
		if err != nil {
			return err
		}
		return a.Store.DeletePreset(p.ID)
	},
}

// --- Macro context ---

var macroCmd = &cobra.Command{
	Use:   "macro",
	Short: "Show or set the key rate and inflation used in bond analysis",
}

var macroShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the macro context",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		m := a.Macro(cmd.Context())
		fmt.Printf("Ключевая ставка: %s\n", utils.FormatPct(m.KeyRate))
		fmt.Printf("Инфляция:        %s\n", utils.FormatPct(m.Inflation))
		fmt.Printf("Дата:            %s (%s)\n", m.Date, m.Source)
		return nil
	},
}

var macroSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store the macro context",
	Example: `  moexbonds macro set --key-rate 17 --inflation 8.2
  moexbonds macro set --from-cbr --inflation 8.2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		m := a.Macro(cmd.Context())
		m.Source = "manual"
		m.Date = civil.DateOf(time.Now().In(utils.MSK))

		if fromCBR, _ := f.GetBool("from-cbr"); fromCBR {
			if a.KeyRates == nil {
				return errors.New("key rate scraping is disabled (macro.scrape)")
			}
			kr, err := a.KeyRates.KeyRate(cmd.Context())
			if err != nil {
				return err
			}
			m.KeyRate, m.Date, m.Source = kr.Rate, kr.Date, "cbr"
		}
		if f.Changed("key-rate") {
			m.KeyRate, _ = f.GetFloat64("key-rate")
		}
		if f.Changed("inflation") {
			m.Inflation, _ = f.GetFloat64("inflation")
		}
		if f.Changed("date") {
			v, _ := f.GetString("date")
			d, err := civil.ParseDate(v)
			if err != nil {
				return fmt.Errorf("invalid --date %q, use YYYY-MM-DD", v)
			}
			m.Date = d
		}
		if m.KeyRate < 0 || m.KeyRate > 100 {
			return fmt.Errorf("key rate %.2f out of range", m.KeyRate)
		}
		if err := a.Store.SaveMacro(m); err != nil {
			return err
		}
		fmt.Printf("saved: ключевая ставка %s, инфляция %s\n", utils.FormatPct(m.KeyRate), utils.FormatPct(m.Inflation))
		return nil
	},
}

func init() {
	f := macroSetCmd.Flags()
	f.Float64("key-rate", 0, "Bank of Russia key rate, % p.a.")
	f.Float64("inflation", 0, "annual inflation, %")
	f.String("date", "", "as-of date YYYY-MM-DD (default today)")
	f.Bool("from-cbr", false, "take the key rate from the Bank of Russia site")

	favCmd.AddCommand(favAddCmd, favRmCmd, favLsCmd)
	presetCmd.AddCommand(presetSaveCmd, presetLsCmd, presetRmCmd)
	macroCmd.AddCommand(macroShowCmd, macroSetCmd)
}
