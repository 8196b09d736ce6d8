package repository

// Schema definitions for the creditline database.
// Compatible with both SQLite and PostgreSQL. Money columns are TEXT so
// decimal values round-trip exactly on both drivers.

const schemaCustomers = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    age INTEGER NOT NULL,
    phone_number TEXT NOT NULL,
    monthly_income TEXT NOT NULL,
    approved_limit TEXT NOT NULL,
    current_debt TEXT NOT NULL DEFAULT '0',
    current_emi TEXT NOT NULL DEFAULT '0',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_phone ON customers(tenant_id, phone_number);
`

const schemaLoans = `
CREATE TABLE IF NOT EXISTS loans (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    tenure INTEGER NOT NULL,
    interest_rate TEXT NOT NULL,
    monthly_installment TEXT NOT NULL,
    status TEXT NOT NULL,
    emis_paid_on_time INTEGER NOT NULL DEFAULT 0,
    start_date TIMESTAMP NOT NULL,
    end_date TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id),
    FOREIGN KEY (tenant_id, customer_id) REFERENCES customers(tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans(tenant_id, customer_id);
CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(tenant_id, status);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCustomers,
		schemaLoans,
	}
}
