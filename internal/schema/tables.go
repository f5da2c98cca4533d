package schema

// Table names of the point-of-sale entities.
const (
	TableCategories    = "categories"
	TableProducts      = "products"
	TableCustomers     = "customers"
	TableCashSessions  = "cash_sessions"
	TableSales         = "sales"
	TableSaleItems     = "sale_items"
	TableCashMovements = "cash_movements"
)

func col(name string, t ColumnType) Column { return Column{Name: name, Type: t} }

// withBookkeeping wraps the entity columns with the id, tenant and
// timestamp columns every synchronized table carries.
func withBookkeeping(cols ...Column) []Column {
	out := []Column{col(ColID, Text), col(ColTenantID, Text)}
	out = append(out, cols...)
	return append(out,
		col(ColCreatedAt, Time),
		col(ColUpdatedAt, Time),
		Column{Name: ColSyncedAt, Type: Time, LocalOnly: true},
	)
}

// POSTables returns the point-of-sale tables in hydration order.
func POSTables() []TableSchema {
	return []TableSchema{
		{
			Name:       TableCategories,
			Collection: "categories",
			Hydrate:    true,
			Columns: withBookkeeping(
				col("name", Text),
				col("active", Bool),
			),
		},
		{
			Name:       TableProducts,
			Collection: "products",
			Hydrate:    true,
			Columns: withBookkeeping(
				col("category_id", Text),
				col("sku", Text),
				col("name", Text),
				col("price", Real),
				col("stock", Real),
				col("active", Bool),
				col("attributes", JSON),
			),
		},
		{
			Name:       TableCustomers,
			Collection: "customers",
			Hydrate:    true,
			Columns: withBookkeeping(
				col("name", Text),
				col("document", Text),
				col("email", Text),
				col("phone", Text),
				col("loyalty_points", Integer),
			),
		},
		{
			Name:       TableCashSessions,
			Collection: "cash_sessions",
			Hydrate:    true,
			Columns: withBookkeeping(
				col("operator_id", Text),
				col("status", Text),
				col("opening_amount", Real),
				col("closing_amount", Real),
				col("opened_at", Time),
				col("closed_at", Time),
			),
		},
		{
			Name:       TableSales,
			Collection: "sales",
			Hydrate:    true,
			Immutable:  true,
			Columns: withBookkeeping(
				col("cash_session_id", Text),
				col("customer_id", Text),
				col("status", Text),
				col("payment_method", Text),
				col("total", Real),
				col("discount", Real),
				col("fiscal_issued", Bool),
			),
		},
		{
			Name:       TableSaleItems,
			Collection: "sale_items",
			Hydrate:    true,
			Immutable:  true,
			Columns: withBookkeeping(
				col("sale_id", Text),
				col("product_id", Text),
				col("quantity", Real),
				col("unit_price", Real),
				col("total", Real),
			),
		},
		{
			Name:       TableCashMovements,
			Collection: "cash_movements",
			Hydrate:    true,
			Immutable:  true,
			Columns: withBookkeeping(
				col("cash_session_id", Text),
				col("kind", Text),
				col("amount", Real),
				col("reason", Text),
			),
		},
	}
}

// DefaultRegistry returns a registry of the point-of-sale tables.
func DefaultRegistry() *Registry {
	return MustRegistry(POSTables()...)
}
