package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"racereg/internal/coupons"
	"racereg/internal/store"
)

func couponCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coupon",
		Short: "Manage discount coupons",
	}
	cmd.AddCommand(couponCreateCmd())
	cmd.AddCommand(couponListCmd())
	return cmd
}

func couponCreateCmd() *cobra.Command {
	var (
		percent  string
		expires  string
		maxUsage int64
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "create CODE",
		Short: "Create a percentage coupon",
		Example: `  racereg coupon create EARLY25 --percent 25 --max-usage 100
  racereg coupon create STAFF --percent 100 --expires 2026-12-31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pct, err := decimal.NewFromString(percent)
			if err != nil {
				return fmt.Errorf("--percent: %w", err)
			}
			var expiresAt *time.Time
			if expires != "" {
				t, err := parseExpiry(expires)
				if err != nil {
					return err
				}
				expiresAt = &t
			}
			var limit *int64
			if cmd.Flags().Changed("max-usage") {
				limit = &maxUsage
			}

			c, err := coupons.New(args[0], pct, expiresAt, limit)
			if err != nil {
				return err
			}
			c.IsActive = !inactive

			_, s, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.CreateCoupon(cmd.Context(), c); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return fmt.Errorf("coupon %s already exists", c.Code)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Coupon created: %s (%s%%)\n", c.Code, c.DiscountValue)
			return nil
		},
	}
	cmd.Flags().StringVar(&percent, "percent", "", "discount percentage, 0 to 100")
	cmd.Flags().StringVar(&expires, "expires", "", "expiry as RFC 3339 or YYYY-MM-DD (end of that day, UTC)")
	cmd.Flags().Int64Var(&maxUsage, "max-usage", 0, "maximum number of uses, unlimited when not set")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create the coupon disabled")
	cmd.MarkFlagRequired("percent")
	return cmd
}

func parseExpiry(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--expires: want RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	return d.Add(24*time.Hour - time.Second).UTC(), nil
}

func couponListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List coupons with their usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, s, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.ListCoupons(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tPERCENT\tACTIVE\tUSED\tRESERVED\tMAX\tEXPIRES")
			for _, c := range list {
				limit, expiry := "-", "-"
				if c.MaxUsage != nil {
					limit = fmt.Sprint(*c.MaxUsage)
				}
				if c.ExpiresAt != nil {
					expiry = c.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%s\t%s\n",
					c.Code, c.DiscountValue, c.IsActive, c.UsageCount, c.ReservedCount, limit, expiry)
			}
			return w.Flush()
		},
	}
}
