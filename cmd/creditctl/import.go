package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opensource-finance/creditline/internal/importer"
	"github.com/opensource-finance/creditline/internal/repository"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk load customers and loans from .xlsx or .csv files",
		Long: `Import customer and loan spreadsheets into a tenant.

The first row of each file is a header. Customers are loaded before loans.
Existing ids and duplicate phone numbers are skipped, and after loading loans
the touched customers' debt and EMI totals are recomputed.`,
		Example: `  creditctl import --tenant acme --customers customer_data.xlsx --loans loan_data.xlsx`,
		Args:    cobra.NoArgs,
		RunE:    runImport,
	}

	cmd.Flags().String("tenant", "", "tenant to import into (required)")
	cmd.Flags().String("customers", "", "customers file")
	cmd.Flags().String("loans", "", "loans file")
	cmd.Flags().Bool("json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("tenant")

	return cmd
}

func runImport(cmd *cobra.Command, _ []string) error {
	tenantID, _ := cmd.Flags().GetString("tenant")
	customersPath, _ := cmd.Flags().GetString("customers")
	loansPath, _ := cmd.Flags().GetString("loans")
	asJSON, _ := cmd.Flags().GetBool("json")

	if customersPath == "" && loansPath == "" {
		return errors.New("at least one of --customers or --loans is required")
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	defer func() { _ = repo.Close() }()

	report, err := importer.New(repo).Import(cmd.Context(), tenantID, customersPath, loansPath)
	if report != nil {
		if perr := printReport(cmd.OutOrStdout(), report, asJSON); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	return nil
}

func printReport(w io.Writer, r *importer.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "customers: %d created, %d skipped\n", r.CustomersCreated, r.CustomersSkipped)
	fmt.Fprintf(w, "loans:     %d created, %d skipped\n", r.LoansCreated, r.LoansSkipped)
	fmt.Fprintf(w, "recomputed totals for %d customers\n", r.CustomersRecomputed)
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "%d rows rejected:\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
	}
	return nil
}
