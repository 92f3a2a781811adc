package schema

import (
	"testing"

	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/stream"
	"github.com/pkg/errors"
)

func TestStagingTableValidate(t *testing.T) {
	st := StagingTable{
		SourceName:      "customers",
		StagedName:      "stg_customers",
		RequiredColumns: []string{"CUSTOMER_ID", "CITY"},
	}
	good := stream.NewRecord()
	good.SetData("CUSTOMER_ID", 1)
	good.SetData("CITY", "Boston")
	good.SetData("EXTRA", "ok") // unexpected columns are carried, not rejected.
	if err := st.Validate(good); err != nil {
		t.Error("unexpected validation failure: ", err)
	}

	bad := stream.NewRecord()
	bad.SetData("CUSTOMER_ID", 1)
	err := st.Validate(bad)
	if err == nil {
		t.Fatal("expected schema error for missing CITY")
	}
	var se *rowio.SchemaError
	if !errors.As(err, &se) {
		t.Fatal("expected *rowio.SchemaError, got: ", err)
	}
	if se.Column != "CITY" {
		t.Error("unexpected column in schema error: ", se.Column)
	}
}

func TestDefaultModelShape(t *testing.T) {
	m := DefaultModel()
	if len(m.Staging) != 5 {
		t.Error("unexpected staging table count: ", len(m.Staging))
	}
	if len(m.Dimensions) != 4 {
		t.Error("unexpected dimension count: ", len(m.Dimensions))
	}
	cust, ok := m.DimensionByTable(TableDimCustomer)
	if !ok || !cust.Tracked {
		t.Error("customer dimension must be history-tracked")
	}
	for _, d := range m.Dimensions {
		if d.Table != TableDimCustomer && d.Tracked {
			t.Error("only the customer dimension tracks history: ", d.Table)
		}
		if d.Namespace == "" || d.SurrogateKey == "" || d.NaturalKey == "" {
			t.Error("incomplete dimension definition: ", d.Table)
		}
	}
	if m.Fact.NaturalKey != "INVOICE_ID" {
		t.Error("fact natural key must be the invoice id")
	}
	if _, ok := m.StagingByName("invoice_items"); !ok {
		t.Error("missing invoice_items staging definition")
	}
}

func TestNormaliseColumns(t *testing.T) {
	got := NormaliseColumns([]string{" customer_id ", "City"})
	if got[0] != "CUSTOMER_ID" || got[1] != "CITY" {
		t.Error("columns not normalised: ", got)
	}
}

func TestTrackedAttributeMapPreservesOrder(t *testing.T) {
	d := Dimension{Attributes: []string{"FIRST_NAME", "LAST_NAME", "CITY"}}
	m := d.TrackedAttributeMap()
	if m.Len() != 3 {
		t.Error("unexpected compare-key count: ", m.Len())
	}
	got := make([]string, 0, 3)
	iter := m.IterFunc()
	for kv, ok := iter(); ok; kv, ok = iter() {
		got = append(got, kv.Key.(string))
	}
	for i, want := range d.Attributes {
		if got[i] != want {
			t.Error("compare keys out of order: ", got)
			break
		}
	}
}
