package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPositionKeyCaseInsensitive(t *testing.T) {
	a := Position{Symbol: "nifty24decfut", Exchange: "nfo", Quantity: 65}
	b := Position{Symbol: "NIFTY24DECFUT ", Exchange: NFO, Quantity: -65}
	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %v vs %v", a.Key(), b.Key())
	}
	if got := a.Key().String(); got != "NFO:NIFTY24DECFUT" {
		t.Errorf("String() = %q", got)
	}
}

func TestPositionBookOpen(t *testing.T) {
	book := PositionBook{Net: []Position{
		{Symbol: "A", Exchange: NFO, Quantity: 65},
		{Symbol: "B", Exchange: BFO, Quantity: 0},
		{Symbol: "C", Exchange: "NSE", Quantity: 10},
		{Symbol: "D", Exchange: BFO, Quantity: -20},
	}}
	open := book.Open(NFO, BFO)
	if len(open) != 2 || open[0].Symbol != "A" || open[1].Symbol != "D" {
		t.Errorf("unexpected open positions: %+v", open)
	}
	if len(book.Open()) != 3 {
		t.Errorf("Open() without filter should return every open position")
	}
}

func TestNetQuantitySumsProducts(t *testing.T) {
	book := PositionBook{Net: []Position{
		{Symbol: "A", Exchange: NFO, Product: ProductNRML, Quantity: 65},
		{Symbol: "a", Exchange: NFO, Product: ProductMIS, Quantity: -130},
	}}
	if got := book.NetQuantity(NewPositionKey(NFO, "A")); got != -65 {
		t.Errorf("NetQuantity = %d, want -65", got)
	}
	if got := book.NetQuantity(NewPositionKey(BFO, "A")); got != 0 {
		t.Errorf("NetQuantity on other exchange = %d, want 0", got)
	}
}

func TestMarginTotal(t *testing.T) {
	m := Margin{Available: decimal.NewFromInt(7_500_000), Used: decimal.NewFromInt(2_500_000)}
	if !m.Total().Equal(decimal.NewFromInt(10_000_000)) {
		t.Errorf("Total = %s", m.Total())
	}
	if (Margin{}).Usable() {
		t.Error("zero margin must not be usable")
	}
}

func TestAccountLabelAndMode(t *testing.T) {
	base := Account{ID: "AB1234", DisplayName: "Ravi", IsBase: true}
	if base.Label() != "BASE ACCOUNT Ravi" || base.CopyMode() != CopyBase {
		t.Errorf("unexpected base label/mode: %q %q", base.Label(), base.CopyMode())
	}
	target := Account{ID: "CD5678", CopyEnabled: true}
	if target.Label() != "CD5678" || target.CopyMode() != CopyYes {
		t.Errorf("unexpected target label/mode: %q %q", target.Label(), target.CopyMode())
	}
}

func TestSyncReportStatus(t *testing.T) {
	r := &SyncReport{Targets: []TargetReport{{Status: TargetSynced}}}
	if r.Status() != "ok" {
		t.Errorf("Status = %q", r.Status())
	}
	r.Targets = append(r.Targets, TargetReport{Status: TargetPartial})
	if r.Status() != "partial" {
		t.Errorf("Status = %q", r.Status())
	}
	r.Fatal = "base unresolvable"
	if r.Status() != "fatal" {
		t.Errorf("Status = %q", r.Status())
	}
}

func TestOrderStatusInterpretation(t *testing.T) {
	s := OrderStatus{Status: OrderStatusRejected, StatusMessage: "Insufficient funds"}
	if s.Interpretation() != "Order was rejected: Insufficient funds" {
		t.Errorf("got %q", s.Interpretation())
	}
	if (OrderStatus{Status: "OPEN"}).Interpretation() != "Order is OPEN" {
		t.Error("unexpected interpretation for open order")
	}
}
