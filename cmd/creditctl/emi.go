package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/opensource-finance/creditline/internal/emi"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func emiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emi <principal> <annual-rate> <tenure-months>",
		Short: "Quote the monthly installment of a loan",
		Example: `  creditctl emi 200000 15 12
  creditctl emi 200000 15 12 --schedule`,
		Args: cobra.ExactArgs(3),
		RunE: runEMI,
	}
	cmd.Flags().Bool("schedule", false, "print the month-by-month amortization")
	return cmd
}

func runEMI(cmd *cobra.Command, args []string) error {
	principal, err := decimal.NewFromString(args[0])
	if err != nil {
		return fmt.Errorf("invalid principal %q: %w", args[0], err)
	}
	rate, err := decimal.NewFromString(args[1])
	if err != nil {
		return fmt.Errorf("invalid annual rate %q: %w", args[1], err)
	}
	tenure, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid tenure %q: %w", args[2], err)
	}

	installment, err := emi.Compute(principal, rate, tenure)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "monthly installment: %s\n", installment.StringFixed(2))

	if withSchedule, _ := cmd.Flags().GetBool("schedule"); !withSchedule {
		return nil
	}
	rows, err := emi.Schedule(principal, rate, tenure)
	if err != nil {
		return err
	}
	return printSchedule(out, rows)
}

func printSchedule(w io.Writer, rows []emi.Installment) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "month\topening\tpayment\tinterest\tprincipal\tclosing\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t\n",
			r.Month,
			r.Opening.StringFixed(2),
			r.Payment.StringFixed(2),
			r.Interest.StringFixed(2),
			r.Principal.StringFixed(2),
			r.Closing.StringFixed(2),
		)
	}
	fmt.Fprintf(tw, "total interest\t%s\t\t\t\t\t\n", emi.TotalInterest(rows).StringFixed(2))
	return tw.Flush()
}
