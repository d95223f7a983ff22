package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/storyquest/storyquest-api/internal/domain/credit"
	"github.com/storyquest/storyquest-api/internal/domain/user"
	"github.com/storyquest/storyquest-api/internal/middleware"
	"github.com/storyquest/storyquest-api/internal/pkg/validator"
)

// newRootCmd builds the command tree. open is called once per command that
// needs the database.
func newRootCmd(open func() (*backend, error)) *cobra.Command {
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Inspect and repair StoryQuest credit balances and score aggregates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// withBackend opens the backend around fn.
	withBackend := func(fn func(cmd *cobra.Command, args []string, b *backend) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			b, err := open()
			if err != nil {
				return err
			}
			if b.close != nil {
				defer b.close()
			}
			return fn(cmd, args, b)
		}
	}

	root.AddCommand(
		migrateCmd(withBackend),
		userCmd(withBackend),
		tokenCmd(withBackend),
		balanceCmd(withBackend),
		grantCmd(withBackend),
		transactionsCmd(withBackend),
		reconcileCmd(withBackend),
	)
	return root
}

type wrapFunc func(fn func(cmd *cobra.Command, args []string, b *backend) error) func(*cobra.Command, []string) error

// ─── migrate ────────────────────────────────────────────────────────────────

func migrateCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, args []string, b *backend) error {
			if b.migrate == nil {
				return fmt.Errorf("backend does not support migrations")
			}
			if err := b.migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		}),
	}
}

// ─── user create ────────────────────────────────────────────────────────────

func userCmd(with wrapFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage student accounts",
	}

	create := &cobra.Command{
		Use:   "create EMAIL",
		Short: "Create a student account",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, b *backend) error {
			name, _ := cmd.Flags().GetString("name")
			ageGroup, _ := cmd.Flags().GetString("age-group")
			credits, _ := cmd.Flags().GetInt("credits")

			if err := validator.ValidateVar(args[0], "required,email"); err != nil {
				return fmt.Errorf("invalid email %q", args[0])
			}
			if err := validator.ValidateVar(ageGroup, "age_group"); err != nil {
				return fmt.Errorf("invalid age group %q", ageGroup)
			}
			if credits < 0 {
				return fmt.Errorf("credits must not be negative")
			}

			acc := &user.Account{
				Email:       args[0],
				DisplayName: name,
				AgeGroup:    ageGroup,
				Credits:     credits,
			}
			if err := b.users.Create(cmd.Context(), acc); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), acc.ID)
			return nil
		}),
	}
	create.Flags().String("name", "", "Display name")
	create.Flags().String("age-group", "7-11", "Age group (3-5, 5-7, 7-11, 11-14, 14-16)")
	create.Flags().Int("credits", 0, "Opening credit balance")

	plan := &cobra.Command{
		Use:   "plan USER_ID STATUS",
		Short: "Set an account's plan (free, active, cancelled, expired)",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(cmd *cobra.Command, args []string, b *backend) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			if err := b.users.UpdateSubscriptionStatus(cmd.Context(), userID, user.SubscriptionStatus(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "plan set to %s\n", args[1])
			return nil
		}),
	}

	cmd.AddCommand(create, plan)
	return cmd
}

// ─── token ──────────────────────────────────────────────────────────────────

func tokenCmd(with wrapFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Issue an access token for an account",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, b *backend) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			if _, err := b.users.GetByID(cmd.Context(), userID); err != nil {
				return err
			}

			role := "student"
			if admin, _ := cmd.Flags().GetBool("admin"); admin {
				role = middleware.RoleAdmin
			}
			token, err := b.jwt.GenerateAccessToken(userID, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}),
	}
	cmd.Flags().Bool("admin", false, "Issue an admin token")
	return cmd
}

// ─── balance ────────────────────────────────────────────────────────────────

func balanceCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "balance USER_ID",
		Short: "Print an account's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, b *backend) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			balance, err := b.credits.Balance(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), balance)
			return nil
		}),
	}
}

// ─── grant ──────────────────────────────────────────────────────────────────

func grantCmd(with wrapFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant USER_ID AMOUNT",
		Short: "Add credits to an account",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(cmd *cobra.Command, args []string, b *backend) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q", args[1])
			}
			reason, _ := cmd.Flags().GetString("reason")

			balance, err := b.credits.Credit(cmd.Context(), userID, amount, credit.TransactionMeta{
				Type:   credit.TransactionTypeAdminGrant,
				Reason: "ledgerctl:" + reason,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %d credits, balance %d\n", amount, balance)
			return nil
		}),
	}
	cmd.Flags().String("reason", "manual", "Reason recorded on the ledger entry")
	return cmd
}

// ─── transactions ───────────────────────────────────────────────────────────

func transactionsCmd(with wrapFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transactions USER_ID",
		Short: "List ledger entries, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, b *backend) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			txs, err := b.credits.ListTransactions(cmd.Context(), userID, limit, offset)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CREATED\tTYPE\tDELTA\tBALANCE\tREASON")
			for _, tx := range txs {
				fmt.Fprintf(w, "%s\t%s\t%+d\t%d\t%s\n",
					tx.CreatedAt.Format("2006-01-02 15:04:05"), tx.TxType, tx.AmountDelta, tx.BalanceAfter, tx.Reason)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().Int("limit", 20, "Maximum entries to list (max 100)")
	cmd.Flags().Int("offset", 0, "Entries to skip")
	return cmd
}

// ─── reconcile ──────────────────────────────────────────────────────────────

func reconcileCmd(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile USER_ID",
		Short: "Rebuild the cumulative score from stored submission scores",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, args []string, b *backend) error {
			userID, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			rec, err := b.scores.Reconcile(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cumulative %d -> %d (drift %+d), level %d -> %d\n",
				rec.Before.CumulativeScore, rec.After.CumulativeScore, rec.Drift, rec.Before.Level, rec.After.Level)
			return nil
		}),
	}
}

func parseUserID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}
