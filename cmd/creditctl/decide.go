package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/opensource-finance/creditline/internal/credit"
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/opensource-finance/creditline/internal/lending"
	"github.com/opensource-finance/creditline/internal/repository"
	"github.com/opensource-finance/creditline/internal/rules"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func decideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Run a credit decision against the configured database",
		Long: `Decide a loan request for an existing customer using the configured
score weights and policy rules. Nothing is written unless --create is set,
in which case an approved loan is booked exactly as POST /create-loan would.`,
		Example: `  creditctl decide --tenant acme --customer 42 --amount 200000 --rate 15 --tenure 12`,
		Args:    cobra.NoArgs,
		RunE:    runDecide,
	}

	cmd.Flags().String("tenant", "", "tenant of the customer (required)")
	cmd.Flags().String("customer", "", "customer id (required)")
	cmd.Flags().String("amount", "", "loan principal (required)")
	cmd.Flags().String("rate", "", "requested annual interest rate in percent (required)")
	cmd.Flags().Int("tenure", 0, "tenure in months (required)")
	cmd.Flags().Bool("create", false, "book the loan when approved")
	for _, name := range []string{"tenant", "customer", "amount", "rate", "tenure"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}

func runDecide(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	tenantID, _ := flags.GetString("tenant")
	customerID, _ := flags.GetString("customer")
	amount, _ := flags.GetString("amount")
	rate, _ := flags.GetString("rate")
	tenure, _ := flags.GetInt("tenure")
	create, _ := flags.GetBool("create")

	req := domain.LoanRequest{CustomerID: customerID, TenureMonths: tenure}
	var err error
	if req.Principal, err = decimal.NewFromString(amount); err != nil {
		return fmt.Errorf("invalid --amount %q: %w", amount, err)
	}
	if req.InterestRate, err = decimal.NewFromString(rate); err != nil {
		return fmt.Errorf("invalid --rate %q: %w", rate, err)
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}
	defer func() { _ = repo.Close() }()

	svc, closePolicy, err := newOfflineService(cfg, repo)
	if err != nil {
		return err
	}
	defer closePolicy()

	ctx := cmd.Context()
	out := decisionOutput{}
	if create {
		out.Decision, out.Loan, err = svc.CreateLoan(ctx, tenantID, req)
	} else {
		out.Decision, err = svc.CheckEligibility(ctx, tenantID, req)
	}
	if err != nil {
		return err
	}
	return writeDecision(cmd.OutOrStdout(), out)
}

type decisionOutput struct {
	Decision *domain.Decision `json:"decision"`
	Loan     *domain.Loan     `json:"loan,omitempty"`
}

// newOfflineService builds a lending service without a bus. The in-process
// cache is enough for a single CLI invocation.
func newOfflineService(cfg *domain.Config, repo domain.Repository) (*lending.Service, func(), error) {
	engine, err := credit.NewEngine(credit.WeightsFromConfig(cfg.Policy))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize credit engine: %w", err)
	}
	policy, err := rules.NewEngine(cfg.Policy.MaxConcurrency)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if err := policy.ReloadRules(cfg.Policy.Rules); err != nil {
		return nil, nil, fmt.Errorf("failed to load policy rules: %w", err)
	}

	svc := lending.NewService(repo, nil, nil, engine, policy, lending.OptionsFromConfig(cfg))
	return svc, func() { _ = policy.Close() }, nil
}

func writeDecision(w io.Writer, out decisionOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
