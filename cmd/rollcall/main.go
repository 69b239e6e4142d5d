// Command rollcall is the lecturer's attendance console.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"rollcall/internal/apiclient"
	"rollcall/internal/config"
	"rollcall/internal/roster"
	"rollcall/pkg/types"
)

func main() {
	if err := newRootCommand(os.Stdin).Execute(); err != nil {
		os.Exit(1)
	}
}

// options are the flags shared by every subcommand
type options struct {
	configPath string
	baseURL    string
	token      string
	verbose    bool
}

// load resolves configuration, letting flags override file and environment
func (o *options) load() (*config.Config, error) {
	cfg := config.LoadConfigWithPrecedence(o.configPath)
	if o.baseURL != "" {
		cfg.API.BaseURL = o.baseURL
	}
	if o.token != "" {
		cfg.API.Token = o.token
		cfg.API.TokenFile = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *options) client(cfg *config.Config) (*apiclient.Client, error) {
	return apiclient.New(cfg.API.BaseURL, cfg.API.Timeout,
		apiclient.TokenSourceFor(cfg.API.Token, cfg.API.TokenFile),
		apiclient.WithRequestLogging(o.verbose))
}

func newRootCommand(stdin io.Reader) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "rollcall",
		Short:        "Run and review group attendance sessions",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("ROLLCALL_CONFIG_FILE"), "JSON config file (overrides environment)")
	flags.StringVar(&opts.baseURL, "base-url", "", "attendance service root URL")
	flags.StringVar(&opts.token, "token", "", "bearer token (overrides the configured token file)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every API request")

	root.AddCommand(
		newGroupsCommand(opts),
		newHistoryCommand(opts),
		newRunCommand(opts, stdin),
	)
	return root
}

func newGroupsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "List the groups you teach",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			client, err := opts.client(cfg)
			if err != nil {
				return err
			}

			groups, err := client.ListGroups(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list groups: %s", apiclient.UserMessage(err, err.Error()))
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tGROUP\tCLASS\tSTUDENTS")
			for _, g := range groups {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", g.ID, g.Name, g.ClassName, g.CurrentStudents)
			}
			return w.Flush()
		},
	}
}

func newHistoryCommand(opts *options) *cobra.Command {
	var sessionID int64

	cmd := &cobra.Command{
		Use:   "history <group-id>",
		Short: "List a group's attendance sessions, or one session's sheet with --session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid group id %q", args[0])
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			client, err := opts.client(cfg)
			if err != nil {
				return err
			}

			if sessionID == 0 {
				return printSessions(cmd.Context(), cmd.OutOrStdout(), client, groupID)
			}
			return printSheet(cmd.Context(), cmd.OutOrStdout(), client, groupID, sessionID)
		},
	}
	cmd.Flags().Int64Var(&sessionID, "session", 0, "show the attendance sheet of this session")
	return cmd
}

func printSessions(ctx context.Context, out io.Writer, client *apiclient.Client, groupID int64) error {
	sessions, err := client.ListGroupSessions(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to load history: %s", apiclient.UserMessage(err, err.Error()))
	}
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(out, "No attendance sessions yet")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tCODE\tSTATUS")
	for _, s := range sessions {
		status := "closed"
		if s.IsActive {
			status = fmt.Sprintf("active (%ds left)", s.RemainingSeconds)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.ID, s.CreatedAt.Local().Format(time.DateTime), s.Code, status)
	}
	return w.Flush()
}

// printSheet prints one session's attendance, enrolled and present lists fetched together
func printSheet(ctx context.Context, out io.Writer, client *apiclient.Client, groupID, sessionID int64) error {
	g, gctx := errgroup.WithContext(ctx)
	sheet := struct {
		enrolled []types.Student
		present  []types.PresentEntry
	}{}
	g.Go(func() error {
		var err error
		sheet.enrolled, err = client.ListEnrolledStudents(gctx, groupID)
		return err
	})
	g.Go(func() error {
		var err error
		sheet.present, err = client.ListPresentStudents(gctx, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load attendance sheet: %s", apiclient.UserMessage(err, err.Error()))
	}

	records := roster.Records(sheet.enrolled, sheet.present)
	present := 0
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STUDENT\tNAME\tSTATUS\tAT")
	for _, r := range records {
		at := ""
		if r.Status == types.StatusPresent {
			present++
			if !r.AttendedAt.IsZero() {
				at = r.AttendedAt.Local().Format(time.TimeOnly)
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.StudentID, r.StudentName, r.Status, at)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d of %d present\n", present, len(records))
	return err
}
