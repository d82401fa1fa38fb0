package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/db/postgres"
	"onair.fm/tipjar/internal/features/accounts"
	"onair.fm/tipjar/internal/features/operators"
)

func newMigrateCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cc.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			if a.DB == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Memory backend: no schema to migrate")
				return nil
			}
			if err := postgres.Migrate(cmd.Context(), a.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newResyncCommand(cc *commandContext) *cobra.Command {
	var broadcasterID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Retry every open payout of one broadcaster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cc.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := a.Engine.Resync(cmd.Context(), broadcasterID)
			if err != nil {
				return fmt.Errorf("resync %s: %w", broadcasterID, err)
			}
			if asJSON {
				return writeJSON(cmd, report)
			}
			printTable(cmd,
				[]string{"Broadcaster", "Processed", "Transferred", "Failed", "Retry", "Skipped", "Rebound"},
				[][]string{{report.BroadcasterID, itoa(report.Processed), itoa(report.Transferred),
					itoa(report.Failed), itoa(report.Retry), itoa(report.Skipped), itoa(report.Rebound)}},
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight})
			return nil
		},
	}
	cmd.Flags().StringVar(&broadcasterID, "broadcaster", "", "Broadcaster id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	_ = cmd.MarkFlagRequired("broadcaster")
	return cmd
}

func newSweepCommand(cc *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:       "sweep reconcile|expire|remind",
		Short:     "Run one scheduled job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"reconcile", "expire", "remind"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cc.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var report any
			var headers, row []string
			switch args[0] {
			case "reconcile":
				r, err := a.Engine.Sweep(ctx)
				if err != nil {
					return err
				}
				report = r
				headers = []string{"Processed", "Transferred", "Failed", "Retry", "Skipped"}
				row = []string{itoa(r.Processed), itoa(r.Transferred), itoa(r.Failed), itoa(r.Retry), itoa(r.Skipped)}
			case "expire":
				r, err := a.Expirer.Run(ctx)
				if err != nil {
					return err
				}
				report = r
				headers = []string{"Examined", "Reallocated", "Skipped", "Repaired", "Amount"}
				row = []string{itoa(r.Examined), itoa(r.Reallocated), itoa(r.Skipped), itoa(r.Repaired),
					common.FormatMoney(r.Amount, a.Config.TipCurrency)}
			case "remind":
				r, err := a.Reminders.Run(ctx)
				if err != nil {
					return err
				}
				report = r
				headers = []string{"Broadcasters", "Sent", "Failed", "Skipped"}
				row = []string{itoa(r.Broadcasters), itoa(r.Sent), itoa(r.Failed), itoa(r.Skipped)}
			default:
				return fmt.Errorf("unknown sweep %q (want reconcile, expire or remind)", args[0])
			}

			if asJSON {
				return writeJSON(cmd, report)
			}
			aligns := make([]columnAlignment, len(headers))
			for i := range aligns {
				aligns[i] = alignRight
			}
			printTable(cmd, headers, [][]string{row}, aligns)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func newTipCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tip <id>",
		Short: "Show one tip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cc.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			t, err := a.Ledger.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			transferred := "-"
			if t.TransferredAt != nil {
				transferred = common.FormatDateTime(*t.TransferredAt)
			}
			reallocated := "-"
			if t.ReallocatedAt != nil {
				reallocated = common.FormatDateTime(*t.ReallocatedAt)
			}
			rows := [][]string{
				{"ID", t.ID},
				{"Created", common.FormatDateTime(t.CreatedAt)},
				{"Broadcaster", t.Broadcaster.String()},
				{"Show", t.ShowID},
				{"Tip", common.FormatMoney(t.TipAmount, t.Currency)},
				{"Fee", common.FormatMoney(t.PlatformFee, t.Currency)},
				{"Total", common.FormatMoney(t.Total, t.Currency)},
				{"Payment", string(t.PaymentStatus)},
				{"Payout", string(t.PayoutStatus)},
				{"Transfer", orDash(t.TransferID)},
				{"Transferred", transferred},
				{"Reallocated", reallocated},
				{"Failure", orDash(t.FailureReason)},
				{"Failures", strconv.Itoa(t.FailureCount)},
			}
			printTable(cmd, []string{"Field", "Value"}, rows, nil)
			return nil
		},
	}
}

func newBroadcasterCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcaster",
		Short: "Manage broadcasters and their payout accounts",
	}

	var b accounts.Broadcaster
	var account string
	var activated bool
	add := &cobra.Command{
		Use:   "add",
		Short: "Register or update a broadcaster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cc.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			if account != "" {
				b.Account = &accounts.PayoutAccount{ExternalID: account}
			}
			saved, err := a.Directory.Register(cmd.Context(), b)
			if err != nil {
				return err
			}
			if account != "" && activated {
				if _, _, err := a.Directory.Activate(cmd.Context(), account, true); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Broadcaster %s <%s> saved\n", saved.ID, saved.Email)
			return nil
		},
	}
	add.Flags().StringVar(&b.ID, "id", "", "Broadcaster id")
	add.Flags().StringVar(&b.Email, "email", "", "Broadcaster e-mail")
	add.Flags().StringVar(&b.DisplayName, "name", "", "Display name")
	add.Flags().StringVar(&account, "account", "", "Connected payout account id")
	add.Flags().BoolVar(&activated, "activated", false, "Mark the payout account as activated")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("email")

	list := &cobra.Command{
		Use:   "list",
		Short: "List broadcasters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cc.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			all, err := a.Directory.List(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(all))
			for _, b := range all {
				acct, state := "-", "no account"
				if b.Account != nil {
					acct = b.Account.ExternalID
					state = "onboarding"
					if b.Account.Activated {
						state = "activated"
					}
				}
				rows = append(rows, []string{b.ID, b.Email, b.DisplayName, acct, state})
			}
			printTable(cmd, []string{"ID", "Email", "Name", "Account", "State"}, rows, nil)
			fmt.Fprintln(cmd.OutOrStdout(), common.FormatCount(len(all), "broadcaster", "broadcasters"))
			return nil
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newReallocationsCommand(cc *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reallocations",
		Short: "List tips reallocated to the pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := cc.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			records, err := a.Records.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(records))
			for _, r := range records {
				rows = append(rows, []string{
					common.ShortID(r.TipID), r.BroadcasterRef,
					common.FormatMoney(r.Amount, r.Currency),
					common.FormatDate(r.TippedAt), common.FormatDate(r.ReallocatedAt),
				})
			}
			printTable(cmd, []string{"Tip", "Broadcaster", "Amount", "Tipped", "Reallocated"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft})
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-password [password]",
		Short:       "Print an argon2id hash for OPS_PASSWORD_HASH",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) == 1 {
				password = args[0]
			} else {
				fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.ErrOrStderr())
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				password = string(raw)
			}
			password = strings.TrimSpace(password)
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}

			hash, err := operators.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
