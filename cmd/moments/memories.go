package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/christophersiem/little-moments/internal/app"
	"github.com/christophersiem/little-moments/internal/memories"
)

const snippetWidth = 60

func (c *cli) client() *memories.Client {
	return app.NewClient(c.cfg.API, nil, c.log, nil)
}

// canonicalTags maps user tag input onto known labels and warns about the
// rest.
func canonicalTags(w io.Writer, inputs []string) []string {
	labels, unknown := memories.CanonicalTags(inputs)
	for _, u := range unknown {
		fmt.Fprintf(w, "warning: unknown tag %q ignored (known: %s)\n", u, strings.Join(memories.KnownTags, ", "))
	}
	return labels
}

func newListCmd(c *cli) *cobra.Command {
	var opts memories.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved moments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(opts.Tags) > 0 {
				opts.Tags = canonicalTags(cmd.ErrOrStderr(), opts.Tags)
			}
			page, err := c.client().List(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("list: could not load memories: %w", err)
			}
			printPage(cmd.OutOrStdout(), page)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Page, "page", memories.DefaultPage, "zero-based page number")
	f.IntVar(&opts.Size, "size", memories.DefaultSize, "page size")
	f.StringVar(&opts.Month, "month", "", "only moments recorded in this month (YYYY-MM)")
	f.StringSliceVar(&opts.Tags, "tag", nil, "only moments with any of these tags (repeatable)")
	return cmd
}

func printPage(w io.Writer, p memories.Page) {
	if len(p.Items) == 0 {
		fmt.Fprintln(w, "No moments yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECORDED\tSTATUS\tTAGS\tTRANSCRIPT")
	for _, m := range p.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.ID,
			m.RecordedAt.Local().Format("2006-01-02 15:04"),
			m.Status,
			strings.Join(m.Tags, ", "),
			snippet(m.TranscriptSnippet, m.Status),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "page %d of %d (%d moments)\n", p.Page+1, max(p.TotalPages, 1), p.TotalElements)
}

func snippet(s string, status memories.Status) string {
	switch status {
	case memories.StatusProcessing:
		return "Transcription still processing."
	case memories.StatusFailed:
		return "Transcription failed. Open for details."
	}
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > snippetWidth {
		return string(r[:snippetWidth-1]) + "…"
	}
	return s
}

func newShowCmd(c *cli) *cobra.Command {
	var copyTranscript bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one moment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.client().Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("show: could not load memory: %w", err)
			}
			printMemory(cmd.OutOrStdout(), m)
			if copyTranscript {
				if m.Transcript == "" {
					return errors.New("show: nothing to copy, the transcript is empty")
				}
				if err := clipboard.WriteAll(m.Transcript); err != nil {
					return fmt.Errorf("show: copy transcript: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Transcript copied to clipboard.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&copyTranscript, "copy", false, "copy the transcript to the clipboard")
	return cmd
}

func printMemory(w io.Writer, m memories.Memory) {
	title := m.Title
	if title == "" {
		title = "Untitled moment"
	}
	fmt.Fprintln(w, title)
	fmt.Fprintln(w, strings.Repeat("─", len([]rune(title))))
	fmt.Fprintf(w, "id:        %s\n", m.ID)
	fmt.Fprintf(w, "recorded:  %s\n", m.RecordedAt.Local().Format(time.RFC1123))
	fmt.Fprintf(w, "status:    %s\n", m.Status)
	if len(m.Tags) > 0 {
		fmt.Fprintf(w, "tags:      %s\n", strings.Join(m.Tags, ", "))
	}
	if m.Summary != "" {
		fmt.Fprintf(w, "\n%s\n", m.Summary)
	}
	switch m.Status {
	case memories.StatusFailed:
		msg := m.ErrorMessage
		if msg == "" {
			msg = "Transcription failed."
		}
		fmt.Fprintf(w, "\n%s\n", msg)
	case memories.StatusProcessing:
		fmt.Fprintln(w, "\nTranscription still processing.")
	default:
		if m.Transcript != "" {
			fmt.Fprintf(w, "\n%s\n", m.Transcript)
		}
	}
}

func newEditCmd(c *cli) *cobra.Command {
	var (
		title, transcript string
		tags              []string
		clearTags         bool
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the title, transcript or tags of a moment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p memories.Patch
			f := cmd.Flags()
			if f.Changed("title") {
				p.Title = &title
			}
			if f.Changed("transcript") {
				p.Transcript = &transcript
			}
			switch {
			case clearTags:
				empty := []string{}
				p.Tags = &empty
			case f.Changed("tag"):
				labels := canonicalTags(cmd.ErrOrStderr(), tags)
				if len(labels) == 0 {
					return errors.New("edit: none of the given tags is known")
				}
				p.Tags = &labels
			}
			if p.IsEmpty() {
				return errors.New("edit: nothing to change, use --title, --transcript, --tag or --clear-tags")
			}
			return c.update(cmd.Context(), cmd.OutOrStdout(), args[0], p)
		},
	}
	f := cmd.Flags()
	f.StringVar(&title, "title", "", "new title")
	f.StringVar(&transcript, "transcript", "", "new transcript")
	f.StringSliceVar(&tags, "tag", nil, "replace the tags (repeatable)")
	f.BoolVar(&clearTags, "clear-tags", false, "remove all tags")
	cmd.MarkFlagsMutuallyExclusive("tag", "clear-tags")
	return cmd
}

func (c *cli) update(ctx context.Context, w io.Writer, id string, p memories.Patch) error {
	m, err := c.client().Update(ctx, id, p)
	if err != nil {
		return fmt.Errorf("edit: could not save your changes: %w", err)
	}
	printMemory(w, m)
	return nil
}
