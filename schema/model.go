package schema

// Warehouse table names.
const (
	TableDimCustomer = "dim_customer"
	TableDimArtist   = "dim_artist"
	TableDimAlbum    = "dim_album"
	TableDimInvoice  = "dim_invoice"
	TableDimDate     = "dim_date"
	TableDimTime     = "dim_time"
	TableFactSales   = "fact_sales"
)

// Calendar dimension columns. The CAL_DATE and TIME_24H columns are the
// exact-match lookup keys used during fact resolution.
const (
	ColDateKey = "DATE_KEY"
	ColCalDate = "CAL_DATE"
	ColTimeKey = "TIME_KEY"
	ColTime24h = "TIME_24H"
)

// Model is the full star-schema definition the pipeline loads.
type Model struct {
	Staging    []StagingTable
	Dimensions []Dimension
	Fact       Fact
}

// StagingByName returns the staging table definition for the given source name.
func (m Model) StagingByName(sourceName string) (StagingTable, bool) {
	for _, s := range m.Staging {
		if s.SourceName == sourceName {
			return s, true
		}
	}
	return StagingTable{}, false
}

// DimensionByTable returns the dimension definition for the given warehouse table.
func (m Model) DimensionByTable(table string) (Dimension, bool) {
	for _, d := range m.Dimensions {
		if d.Table == table {
			return d, true
		}
	}
	return Dimension{}, false
}

// DefaultModel returns the sales star schema: staged operational tables,
// upsert dimensions for artist/album/invoice, the history-tracked customer
// dimension and the invoice-grain sales fact.
func DefaultModel() Model {
	return Model{
		Staging: []StagingTable{
			{
				SourceName:      "customers",
				StagedName:      "stg_customers",
				RequiredColumns: []string{"CUSTOMER_ID", "FIRST_NAME", "LAST_NAME", "CITY", "COUNTRY", "EMAIL"},
			},
			{
				SourceName:      "invoices",
				StagedName:      "stg_invoices",
				RequiredColumns: []string{"INVOICE_ID", "CUSTOMER_ID", "INVOICE_DATE"},
			},
			{
				SourceName:      "invoice_items",
				StagedName:      "stg_invoice_items",
				RequiredColumns: []string{"INVOICE_LINE_ID", "INVOICE_ID", "QUANTITY", "UNIT_PRICE"},
			},
			{
				SourceName:      "artists",
				StagedName:      "stg_artists",
				RequiredColumns: []string{"ARTIST_ID", "NAME"},
			},
			{
				SourceName:      "albums",
				StagedName:      "stg_albums",
				RequiredColumns: []string{"ALBUM_ID", "ARTIST_ID", "TITLE"},
			},
		},
		Dimensions: []Dimension{
			{
				Table:        TableDimArtist,
				Namespace:    TableDimArtist,
				SurrogateKey: "ARTIST_KEY",
				NaturalKey:   "ARTIST_ID",
				StagedSource: "stg_artists",
				Attributes:   []string{"NAME"},
			},
			{
				Table:        TableDimAlbum,
				Namespace:    TableDimAlbum,
				SurrogateKey: "ALBUM_KEY",
				NaturalKey:   "ALBUM_ID",
				StagedSource: "stg_albums",
				Attributes:   []string{"TITLE", "ARTIST_ID"},
			},
			{
				Table:        TableDimInvoice,
				Namespace:    TableDimInvoice,
				SurrogateKey: "INVOICE_KEY",
				NaturalKey:   "INVOICE_ID",
				StagedSource: "stg_invoices",
				Attributes:   []string{"CUSTOMER_ID", "INVOICE_DATE"},
			},
			{
				Table:        TableDimCustomer,
				Namespace:    TableDimCustomer,
				SurrogateKey: "CUSTOMER_KEY",
				NaturalKey:   "CUSTOMER_ID",
				StagedSource: "stg_customers",
				Attributes:   []string{"FIRST_NAME", "LAST_NAME", "CITY", "COUNTRY", "EMAIL"},
				Tracked:      true,
			},
		},
		Fact: Fact{
			Table:        TableFactSales,
			Namespace:    TableFactSales,
			SurrogateKey: "SALES_KEY",
			NaturalKey:   "INVOICE_ID",
		},
	}
}
