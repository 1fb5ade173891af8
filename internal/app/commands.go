package app

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pqrdesk/internal/api"
	"pqrdesk/internal/domain"
	"pqrdesk/internal/format"
	"pqrdesk/internal/similarity"
	"pqrdesk/internal/storage/sqlite"
	"pqrdesk/internal/suggest"
	"pqrdesk/internal/textnorm"
	"pqrdesk/internal/triage"
)

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the scheduled digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = rt.cfg.ListenAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := api.New(api.Deps{
				Triage:  rt.triage,
				Cases:   rt.store,
				Stats:   rt.stats,
				Health:  rt.store,
				Metrics: rt.metrics.Handler(),
			})
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Run(gctx, addr) })
			if rt.cfg.DigestSchedule != "" {
				g.Go(func() error { return rt.digest.Run(gctx, rt.cfg.DigestSchedule) })
			} else {
				c.logger.Info("digest disabled (digest_schedule not set)")
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides listen_addr)")
	return cmd
}

func (c *cli) classifyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "classify [text]",
		Short: "Classify free text, or every line of --file as a batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if file != "" {
				texts, err := readLines(file)
				if err != nil {
					return err
				}
				results, err := rt.triage.ClassifyBatch(cmd.Context(), texts)
				if err != nil {
					return err
				}
				return c.print(out, results, func(m format.Mode) string {
					var b strings.Builder
					for i, r := range results {
						fmt.Fprintf(&b, "%d. %s\n%s\n", i+1, textnorm.Excerpt(texts[i], 70), format.Classification(r, m))
					}
					return b.String()
				})
			}
			if len(args) == 0 {
				return fmt.Errorf("text or --file is required")
			}
			r, err := rt.triage.Classify(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return c.print(out, r, func(m format.Mode) string { return format.Classification(r, m) })
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "File with one text per line")
	return cmd
}

func (c *cli) caseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Create, inspect and move cases through their lifecycle",
	}
	cmd.AddCommand(c.caseCreateCmd(), c.caseListCmd(), c.caseShowCmd(), c.caseUpdateCmd(),
		c.caseDeleteCmd(), c.caseReclassifyCmd())
	return cmd
}

func (c *cli) caseCreateCmd() *cobra.Command {
	var in triage.NewCase
	var noClassify bool
	cmd := &cobra.Command{
		Use:   "create <text>",
		Short: "Store a new case, classifying it unless --no-classify",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			in.Text = strings.Join(args, " ")
			created, err := rt.triage.CreateCase(cmd.Context(), in, !noClassify)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), created, func(m format.Mode) string { return format.Case(created, m) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Subject, "subject", "", "Case subject")
	f.StringVar(&in.Channel, "channel", "", "Intake channel (default web)")
	f.StringVar(&in.UserID, "user", "", "Submitting user id")
	f.BoolVar(&noClassify, "no-classify", false, "Store without classifying")
	return cmd
}

func (c *cli) caseListCmd() *cobra.Command {
	var typ, category, status string
	var f sqlite.ListFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			if typ != "" {
				if f.Type, err = domain.ParseCaseType(typ); err != nil {
					return err
				}
			}
			if category != "" {
				if f.Category, err = domain.ParseCategory(category); err != nil {
					return err
				}
			}
			if status != "" {
				if f.Status, err = domain.ParseStatus(status); err != nil {
					return err
				}
			}
			page, err := rt.store.ListCases(cmd.Context(), f)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), page, func(m format.Mode) string {
				return format.Cases(page.Cases, m) + fmt.Sprintf("\npage %d, %d of %d cases", page.Page, len(page.Cases), page.Total)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&typ, "type", "", "Filter by type")
	fl.StringVar(&category, "category", "", "Filter by category")
	fl.StringVar(&status, "status", "", "Filter by status")
	fl.StringVarP(&f.Query, "query", "q", "", "Substring of text, subject or tracking code")
	fl.IntVar(&f.Page, "page", 1, "Page number")
	fl.IntVar(&f.PerPage, "per-page", sqlite.DefaultPerPage, "Cases per page (max 100)")
	return cmd
}

func (c *cli) caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			got, err := rt.triage.GetCase(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), got, func(m format.Mode) string { return format.Case(got, m) })
		},
	}
}

func (c *cli) caseUpdateCmd() *cobra.Command {
	var text, subject, response, status, typ, category, by string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a case, correct its classification or change its status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			u := triage.Update{CorrectedBy: by}
			flags := cmd.Flags()
			if flags.Changed("text") {
				u.Text = &text
			}
			if flags.Changed("subject") {
				u.Subject = &subject
			}
			if flags.Changed("response") {
				u.Response = &response
			}
			if flags.Changed("status") {
				st, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				u.Status = &st
			}
			if flags.Changed("type") {
				t, err := domain.ParseCaseType(typ)
				if err != nil {
					return err
				}
				u.Type = &t
			}
			if flags.Changed("category") {
				cat, err := domain.ParseCategory(category)
				if err != nil {
					return err
				}
				u.Category = &cat
			}
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			updated, err := rt.triage.UpdateCase(cmd.Context(), id, u)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), updated, func(m format.Mode) string { return format.Case(updated, m) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&text, "text", "", "New case text (clears the classification)")
	f.StringVar(&subject, "subject", "", "New subject")
	f.StringVar(&response, "response", "", "Operator response")
	f.StringVar(&status, "status", "", "Target status: pending, in_progress, resolved, closed")
	f.StringVar(&typ, "type", "", "Corrected type")
	f.StringVar(&category, "category", "", "Corrected category")
	f.StringVar(&by, "by", "", "Operator recorded on a correction")
	return cmd
}

func (c *cli) caseDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			if err := rt.triage.DeleteCase(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "case %d deleted\n", id)
			return nil
		},
	}
}

func (c *cli) caseReclassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclassify <id>",
		Short: "Classify a stored case again, replacing its classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			updated, err := rt.triage.Reclassify(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), updated, func(m format.Mode) string { return format.Case(updated, m) })
		},
	}
}

func (c *cli) similarCmd() *cobra.Command {
	var caseID int64
	var topK int
	var minScore float64
	cmd := &cobra.Command{
		Use:   "similar [text]",
		Short: "Find cases similar to a text or to a stored case",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			q := similarity.Query{Text: strings.Join(args, " "), CaseID: caseID, TopK: topK}
			if cmd.Flags().Changed("min-score") {
				q.MinScore = &minScore
			}
			res, err := rt.triage.FindSimilar(cmd.Context(), q)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, func(m format.Mode) string {
				if res.Unavailable {
					return "similarity search unavailable: " + res.Reason
				}
				return format.Similar(res.Cases, m)
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&caseID, "case", 0, "Stored case id to search from")
	f.IntVar(&topK, "top-k", similarity.DefaultTopK, "Maximum results (1-20)")
	f.Float64Var(&minScore, "min-score", 0, "Minimum score (0-1); defaults to similarity_min_score")
	return cmd
}

func (c *cli) suggestCmd() *cobra.Command {
	var caseID int64
	var typ, category string
	var includeSimilar bool
	cmd := &cobra.Command{
		Use:   "suggest [text]",
		Short: "Draft a reply for a stored case or a classified text",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			var res domain.SuggestedResponse
			if caseID != 0 {
				res, err = rt.triage.SuggestForCase(cmd.Context(), caseID, includeSimilar)
			} else {
				t, cat, perr := domain.ParseTypeAndCategory(typ, category)
				if perr != nil {
					return perr
				}
				res, err = rt.triage.Suggest(cmd.Context(), suggest.CaseContext{
					Text:           strings.Join(args, " "),
					Type:           t,
					Category:       cat,
					IncludeSimilar: includeSimilar,
				})
			}
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, func(format.Mode) string {
				return fmt.Sprintf("%s\n\n(source: %s, similar cases: %d, latency: %s)", res.Draft, res.Source, res.SimilarCaseCount, res.Latency)
			})
		},
	}
	f := cmd.Flags()
	f.Int64Var(&caseID, "case", 0, "Stored case id")
	f.StringVar(&typ, "type", "", "Case type when drafting for free text")
	f.StringVar(&category, "category", "", "Case category when drafting for free text")
	f.BoolVar(&includeSimilar, "similar", true, "Ground the draft on answered similar cases")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show volume, status and classification statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			r, err := rt.stats.Full(cmd.Context(), days)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), r, func(m format.Mode) string { return format.Report(r, m) })
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Trailing window in days (1-365)")
	return cmd
}

func (c *cli) digestCmd() *cobra.Command {
	var send bool
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Render the statistics digest, or post it with --send",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.runtime()
			if err != nil {
				return err
			}
			if send {
				return rt.digest.Send(cmd.Context())
			}
			text, err := rt.digest.Render(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&send, "send", false, "Post to the configured Slack channel now")
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: invalid case id %q", domain.ErrValidation, s)
	}
	return id, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}
