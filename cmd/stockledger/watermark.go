package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/stockledger/internal/docstore"
	"github.com/mschirtzinger/stockledger/internal/model"
	"github.com/mschirtzinger/stockledger/internal/ui"
)

var watermarkCmd = &cobra.Command{
	Use:     "watermark",
	GroupID: "admin",
	Short:   "Inspect and move sync watermarks",
}

var watermarkListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watermarks",
	Run: func(cmd *cobra.Command, args []string) {
		store, err := openStore(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		marks, err := store.ListWatermarks(cmd.Context(), "")
		if err != nil {
			fatalf("%v", err)
		}
		if len(marks) == 0 {
			fmt.Println("No watermarks")
			return
		}

		rows := make([][]string, 0, len(marks))
		for _, wm := range marks {
			rows = append(rows, []string{string(wm.Group), wm.Name, formatTime(wm.LastTimestamp)})
		}
		fmt.Println(ui.RenderTable([]string{"Group", "Name", "Last timestamp"}, rows))
	},
}

var watermarkResetCmd = &cobra.Command{
	Use:   "reset [warehouse...]",
	Short: "Delete Stock watermarks so warehouses are projected again",
	Long: `Delete the Stock watermark of the named warehouses, or of every warehouse
with --all. The next pass reprojects their newest snapshot.

With --article the Article watermark is deleted instead; the next pass seeds
it to the current time.`,
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		article, _ := cmd.Flags().GetBool("article")
		yes, _ := cmd.Flags().GetBool("yes")

		if !article && !all && len(args) == 0 {
			fatalf("name at least one warehouse, or use --all or --article")
		}

		ctx := cmd.Context()
		store, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		targets, err := resetTargets(ctx, store, args, all, article)
		if err != nil {
			fatalf("%v", err)
		}
		if len(targets) == 0 {
			fmt.Println("No watermarks to reset")
			return
		}

		if !yes {
			ok, err := confirm(fmt.Sprintf("Delete %d watermark(s)?", len(targets)), describe(targets))
			if err != nil {
				fatalf("%v", err)
			}
			if !ok {
				fmt.Println("Aborted")
				return
			}
		}

		deleted := 0
		for _, wm := range targets {
			existed, err := store.DeleteWatermark(ctx, wm.Name, wm.Group)
			if err != nil {
				fatalf("%v", err)
			}
			if existed {
				deleted++
			}
		}
		fmt.Printf("%s Deleted %d watermark(s)\n", ui.RenderPass("✓"), deleted)
	},
}

var watermarkRewindCmd = &cobra.Command{
	Use:   "rewind <name>",
	Short: "Move a watermark to an earlier time",
	Long: `Set a watermark to the time given by --to, which accepts RFC 3339 or
natural language such as "2 days ago" or "yesterday at 6pm".

Rewinding the Article watermark re-merges every article changed since then.`,
	Example: `  stockledger watermark rewind Article --group Article --to "3 hours ago"
  stockledger watermark rewind w1 --to 2024-03-01T00:00:00Z`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		to, _ := cmd.Flags().GetString("to")
		groupName, _ := cmd.Flags().GetString("group")
		yes, _ := cmd.Flags().GetBool("yes")

		group, err := parseGroup(groupName)
		if err != nil {
			fatalf("%v", err)
		}
		at, err := parseWhen(to, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		wm := &model.Watermark{Name: args[0], Group: group, LastTimestamp: at.UTC()}
		if !yes {
			ok, err := confirm("Rewind watermark?", describe([]model.Watermark{*wm}))
			if err != nil {
				fatalf("%v", err)
			}
			if !ok {
				fmt.Println("Aborted")
				return
			}
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}
		defer store.Close()

		if err := store.ResetWatermark(cmd.Context(), wm); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s %s/%s set to %s\n", ui.RenderPass("✓"), wm.Group, wm.Name, formatTime(wm.LastTimestamp))
	},
}

// resetTargets resolves the watermarks named on the command line.
func resetTargets(ctx context.Context, store *docstore.Store, names []string, all, article bool) ([]model.Watermark, error) {
	if article {
		return []model.Watermark{{Name: model.ArticleWatermarkName, Group: model.GroupArticle}}, nil
	}
	if all {
		return store.ListWatermarks(ctx, model.GroupStock)
	}
	targets := make([]model.Watermark, 0, len(names))
	for _, name := range names {
		targets = append(targets, model.Watermark{Name: name, Group: model.GroupStock})
	}
	return targets, nil
}

func describe(marks []model.Watermark) string {
	var b strings.Builder
	for _, wm := range marks {
		fmt.Fprintf(&b, "%s/%s", wm.Group, wm.Name)
		if !wm.LastTimestamp.IsZero() {
			fmt.Fprintf(&b, " → %s", formatTime(wm.LastTimestamp))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// confirm asks a yes/no question. Without a terminal it refuses, so scripts
// must pass --yes.
func confirm(title, description string) (bool, error) {
	if !ui.IsInteractive() {
		return false, fmt.Errorf("not a terminal; pass --yes to confirm")
	}

	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}
	return ok, nil
}

func parseGroup(name string) (model.Group, error) {
	for _, g := range []model.Group{model.GroupStock, model.GroupArticle} {
		if strings.EqualFold(name, string(g)) {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown group %q (want Stock or Article)", name)
}

// parseWhen accepts RFC 3339 timestamps and natural-language times relative
// to now. Times in the future are rejected.
func parseWhen(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("--to is required")
	}

	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return checkPast(t, now)
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand time %q", text)
	}
	return checkPast(r.Time, now)
}

func checkPast(t, now time.Time) (time.Time, error) {
	if t.After(now) {
		return time.Time{}, fmt.Errorf("time %s is in the future", t.Format(time.RFC3339))
	}
	return t, nil
}

func init() {
	watermarkResetCmd.Flags().Bool("all", false, "reset every Stock watermark")
	watermarkResetCmd.Flags().Bool("article", false, "reset the Article watermark")
	watermarkResetCmd.Flags().BoolP("yes", "y", false, "skip confirmation")

	watermarkRewindCmd.Flags().String("to", "", "target time (RFC 3339 or natural language)")
	watermarkRewindCmd.Flags().String("group", string(model.GroupStock), "watermark group: Stock or Article")
	watermarkRewindCmd.Flags().BoolP("yes", "y", false, "skip confirmation")

	watermarkCmd.AddCommand(watermarkListCmd)
	watermarkCmd.AddCommand(watermarkResetCmd)
	watermarkCmd.AddCommand(watermarkRewindCmd)
	rootCmd.AddCommand(watermarkCmd)
}
