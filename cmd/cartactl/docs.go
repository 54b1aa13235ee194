package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carta/api/internal/blocks"
	"carta/api/internal/codec"
	"carta/api/internal/render"
	"carta/api/internal/store"
)

func docsCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "docs",
		Short: "Inspect and upgrade stored menu documents.",
	}
	cmd.AddCommand(docsAuditCmd())
	cmd.AddCommand(docsUpgradeCmd())
	cmd.AddCommand(docsInspectCmd())
	return &cmd
}

// auditReport counts stored documents by format and by decode failure.
type auditReport struct {
	Documents int            `json:"documents"`
	Formats   map[string]int `json:"formats"`
	Failures  map[string]int `json:"failures"`
	Broken    []string       `json:"broken"`
}

func newAuditReport() *auditReport {
	return &auditReport{Formats: map[string]int{}, Failures: map[string]int{}, Broken: []string{}}
}

func (r *auditReport) add(c *codec.Codec, menuID, which string, payload *string) {
	if payload == nil {
		return
	}
	r.Documents++
	info, err := c.Inspect(*payload)
	if err == nil {
		r.Formats[string(info.Format)]++
		_, err = c.Decode(*payload)
	}
	if err != nil {
		r.Failures[codec.FailureReason(err)]++
		r.Broken = append(r.Broken, menuID+"/"+which)
	}
}

func docsAuditCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "audit",
		Short: "Count documents per stored format and list the ones that fail to decode.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(s *store.PostgresStore, _ *zap.Logger) error {
				docs, err := s.ListMenuDocuments(cmd.Context())
				if err != nil {
					return err
				}
				c := codec.New(blocks.Default())
				report := newAuditReport()
				for _, d := range docs {
					report.add(c, d.MenuID, "draft", d.Draft)
					report.add(c, d.MenuID, "published", d.Published)
				}
				sort.Strings(report.Broken)
				return writeIndented(cmd.OutOrStdout(), report)
			})
		},
	}
	return &cmd
}

// upgradeDocuments rewrites every payload that is not in the current format.
// Payloads that fail to decode are left untouched and reported.
func upgradeDocuments(c *codec.Codec, docs store.MenuDocuments) (store.MenuDocuments, bool, error) {
	next := docs
	changed := false
	for _, slot := range []**string{&next.Draft, &next.Published} {
		if *slot == nil {
			continue
		}
		info, err := c.Inspect(**slot)
		if err != nil {
			return docs, false, err
		}
		if info.Current() {
			continue
		}
		tree, err := c.Decode(**slot)
		if err != nil {
			return docs, false, err
		}
		encoded, err := c.Encode(tree)
		if err != nil {
			return docs, false, err
		}
		*slot = &encoded
		changed = true
	}
	return next, changed, nil
}

type upgradeSummary struct {
	Upgraded int      `json:"upgraded"`
	Current  int      `json:"current"`
	Skipped  []string `json:"skipped"`
	Raced    []string `json:"raced"`
	DryRun   bool     `json:"dryRun"`
}

func runUpgrade(ctx context.Context, s *store.PostgresStore, logger *zap.Logger, dryRun bool) (upgradeSummary, error) {
	summary := upgradeSummary{Skipped: []string{}, Raced: []string{}, DryRun: dryRun}
	docs, err := s.ListMenuDocuments(ctx)
	if err != nil {
		return summary, err
	}
	c := codec.New(blocks.Default())
	for _, d := range docs {
		next, changed, err := upgradeDocuments(c, d)
		if err != nil {
			logger.Warn("document not upgraded", zap.String("menu_id", d.MenuID), zap.String("reason", codec.FailureReason(err)), zap.Error(err))
			summary.Skipped = append(summary.Skipped, d.MenuID)
			continue
		}
		if !changed {
			summary.Current++
			continue
		}
		if dryRun {
			summary.Upgraded++
			continue
		}
		ok, err := s.ReplaceDocuments(ctx, d, next)
		if err != nil {
			return summary, fmt.Errorf("replace documents of %s: %w", d.MenuID, err)
		}
		if !ok {
			// an editor saved in between, the next run picks it up
			summary.Raced = append(summary.Raced, d.MenuID)
			continue
		}
		summary.Upgraded++
	}
	return summary, nil
}

func docsUpgradeCmd() *cobra.Command {
	var dryRun bool
	cmd := cobra.Command{
		Use:   "upgrade",
		Short: "Rewrite documents stored in a legacy format.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(s *store.PostgresStore, logger *zap.Logger) error {
				summary, err := runUpgrade(cmd.Context(), s, logger, dryRun)
				if err != nil {
					return err
				}
				return writeIndented(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing.")
	return &cmd
}

type documentDescription struct {
	Format   codec.Format    `json:"format"`
	Version  int             `json:"version"`
	Nodes    int             `json:"nodes"`
	Types    map[string]int  `json:"types,omitempty"`
	Sections []blocks.Anchor `json:"sections,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func describeDocument(c *codec.Codec, payload string) documentDescription {
	info, err := c.Inspect(payload)
	if err != nil {
		return documentDescription{Error: err.Error()}
	}
	desc := documentDescription{Format: info.Format, Version: info.Version, Nodes: info.Nodes}
	tree, err := c.Decode(payload)
	if err != nil {
		desc.Error = err.Error()
		return desc
	}
	desc.Types = map[string]int{}
	for _, n := range tree.Nodes() {
		desc.Types[string(n.Type)]++
	}
	if sections, err := render.Outline(tree); err == nil {
		desc.Sections = sections
	}
	return desc
}

func docsInspectCmd() *cobra.Command {
	cmd := cobra.Command{
		Use:   "inspect MENU_ID",
		Short: "Describe the draft and published documents of a menu.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(s *store.PostgresStore, _ *zap.Logger) error {
				m, err := s.GetMenu(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("load menu %s: %w", args[0], err)
				}
				c := codec.New(blocks.Default())
				out := map[string]any{"id": m.ID, "slug": m.Slug}
				if m.DraftDocument != nil {
					out["draft"] = describeDocument(c, *m.DraftDocument)
				}
				if m.PublishedDocument != nil {
					out["published"] = describeDocument(c, *m.PublishedDocument)
				}
				return writeIndented(cmd.OutOrStdout(), out)
			})
		},
	}
	return &cmd
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
