package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/moexbonds/moexbonds/internal/advisor"
	"github.com/moexbonds/moexbonds/internal/llm"
	"github.com/moexbonds/moexbonds/pkg/utils"
)

var errNoKey = errors.New("LLM API key is not configured; set MOEXBONDS_LLM_OPENROUTER_KEY (or OPENROUTER_API_KEY)")

// --- Analyze Command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze [query]",
	Short: "Ask the LLM to pick bonds from the filtered market",
	Long: `Send the most liquid bonds of the filtered set to the LLM and print its
recommendation. The filters are the configured defaults, a preset, or the
same flags "list" accepts.

Examples:
  moexbonds analyze
  moexbonds analyze "что-нибудь на год с ежемесячным купоном" --coupon-freq 12
  moexbonds analyze --preset "Высокая доходность" --model openai/gpt-4o-mini`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}

		filters := cfg.Screener.Defaults.ViewState().Filters
		if name, _ := cmd.Flags().GetString("preset"); name != "" {
			p, err := a.Store.Preset(name)
			if err != nil {
				return err
			}
			filters = p.Filters
		}
		if err := applyFilterFlags(cmd.Flags(), &filters); err != nil {
			return err
		}
		if err := a.Service.EnsureLoaded(cmd.Context()); err != nil {
			return err
		}

		bonds := a.Service.Filtered(filters, a.Favorites())
		if len(bonds) == 0 {
			return errors.New("no bonds match the filters")
		}
		model, _ := cmd.Flags().GetString("model")
		n := len(bonds)
		if top := cfg.Advisor.TopN; top > 0 && top < n {
			n = top
		}
		fmt.Fprintf(os.Stderr, "🤖 Анализирую %d облигаций…\n", n)

		res, err := a.Advisor.AnalyzeMarket(cmd.Context(), bonds, strings.Join(args, " "), model)
		if err != nil {
			return friendlyLLMError(err)
		}
		printAnalysis(res)
		return nil
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.String("model", "", "model ID (default: llm.model)")
	f.String("preset", "", "filter with a saved preset (ID or name)")
	// Same filter flags as "list".
	f.AddFlagSet(filterFlagSet())
}

// --- Analyze Bond Command ---

var analyzeBondCmd = &cobra.Command{
	Use:   "analyze-bond [secid]",
	Short: "Ask the LLM for a verdict on one bond",
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

		macro := a.Macro(cmd.Context())
		model, _ := cmd.Flags().GetString("model")
		fmt.Fprintf(os.Stderr, "🤖 %s · ключевая ставка %s · инфляция %s (%s)\n",
			rb.ShortName, utils.FormatPct(macro.KeyRate), utils.FormatPct(macro.Inflation), macro.Source)

		res, err := a.Advisor.AnalyzeBond(cmd.Context(), rb, macro, model, a.Service.Snapshot().Seq)
		if err != nil {
			return friendlyLLMError(err)
		}
		printAnalysis(res)
		return nil
	},
}

func init() {
	analyzeBondCmd.Flags().String("model", "", "model ID (default: llm.model)")
}

// --- Models Command ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List chat models available on OpenRouter",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		list, err := a.Catalog.ListModels(cmd.Context())
		if err != nil {
			return err
		}
		freeOnly, _ := cmd.Flags().GetBool("free")
		filter, _ := cmd.Flags().GetString("filter")
		filter = strings.ToLower(filter)

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Name", "Context", "Free"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		n := 0
		for _, m := range list {
			if freeOnly && !m.IsFree() {
				continue
			}
			if filter != "" && !strings.Contains(strings.ToLower(m.ID+" "+m.Name), filter) {
				continue
			}
			free := ""
			if m.IsFree() {
				free = "✓"
			}
			table.Append([]string{m.ID, m.Name, fmt.Sprintf("%d", m.ContextLength), free})
			n++
		}
		table.Render()
		fmt.Printf("\n%d models\n", n)
		return nil
	},
}

func init() {
	modelsCmd.Flags().Bool("free", false, "only free models")
	modelsCmd.Flags().String("filter", "", "substring filter on ID or name")
}

func printAnalysis(res *advisor.Analysis) {
	fmt.Println(res.Markdown)
	cached := ""
	if res.Cached {
		cached = " · из кэша"
	}
	fmt.Fprintf(os.Stderr, "\n— %s via %s%s\n", res.Model, res.Provider, cached)
}

func friendlyLLMError(err error) error {
	switch {
	case errors.Is(err, llm.ErrNoAPIKey):
		return errNoKey
	case errors.Is(err, llm.ErrRateLimit):
		return fmt.Errorf("the model provider is rate limiting requests, try again in a minute: %w", err)
	case errors.Is(err, llm.ErrInvalidModel):
		return fmt.Errorf("unknown model, see \"moexbonds models\": %w", err)
	}
	return err
}
