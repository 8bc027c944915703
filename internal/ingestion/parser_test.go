package ingestion_test

import (
	"testing"

	"LyraeLedger/internal/book"
	"LyraeLedger/internal/ingestion"
	"LyraeLedger/internal/intent"
	fpmath "LyraeLedger/internal/math"
	"LyraeLedger/internal/state"

	"github.com/google/uuid"
)

func TestParsePlacePerpOrder(t *testing.T) {
	data := []byte(`{
		"id": "order-1",
		"signer": "660e8400-e29b-41d4-a716-446655440001",
		"account": "550e8400-e29b-41d4-a716-446655440000",
		"market": 2,
		"side": "sell",
		"price": 31250,
		"quantity": 4,
		"order_type": "post_only_slide",
		"client_order_id": 77,
		"reduce_only": true
	}`)

	in, err := ingestion.ParseIntent(intent.TypePlacePerpOrder, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	o, ok := in.(*intent.PlacePerpOrder)
	if !ok {
		t.Fatalf("expected *intent.PlacePerpOrder, got %T", in)
	}

	if o.Key() != "order-1" {
		t.Errorf("key: got %s, want order-1", o.Key())
	}
	if o.Signer() != uuid.MustParse("660e8400-e29b-41d4-a716-446655440001") {
		t.Errorf("signer: got %s", o.Signer())
	}
	if o.Side != book.Ask || o.OrderType != book.PostOnlySlide {
		t.Errorf("side/type: got %s/%s, want ask/post_only_slide", o.Side, o.OrderType)
	}
	if o.Market != 2 || o.Price != 31250 || o.Quantity != 4 || o.ClientOrderID != 77 || !o.ReduceOnly {
		t.Errorf("fields: got %+v", o)
	}
	if o.Referrer != uuid.Nil {
		t.Errorf("referrer: got %s, want nil", o.Referrer)
	}
}

func TestParseLiquidateTokenAndPerp(t *testing.T) {
	data := []byte(`{
		"id": "liq-9",
		"liqee": "550e8400-e29b-41d4-a716-446655440000",
		"liqor": "660e8400-e29b-41d4-a716-446655440001",
		"asset_type": "token",
		"asset": 15,
		"liab_type": "perp",
		"liab": 0,
		"max_liab": "1250.5"
	}`)

	in, err := ingestion.ParseIntent(intent.TypeLiquidateTokenAndPerp, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	l := in.(*intent.LiquidateTokenAndPerp)
	if l.AssetType != state.AssetToken || l.LiabType != state.AssetPerp {
		t.Errorf("asset types: got %s/%s", l.AssetType, l.LiabType)
	}
	if !l.MaxLiab.Eq(fpmath.MustParse("1250.5")) {
		t.Errorf("max_liab: got %s, want 1250.5", l.MaxLiab)
	}
}

func TestParseTriggerOrder(t *testing.T) {
	data := []byte(`{
		"id": "trig-1",
		"account": "550e8400-e29b-41d4-a716-446655440000",
		"market": 1,
		"side": "bid",
		"order_type": "market",
		"condition": "below",
		"quantity": 3,
		"trigger_price": "95.25"
	}`)

	in, err := ingestion.ParseIntent(intent.TypeAddPerpTriggerOrder, data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	o, err := in.(*intent.AddPerpTriggerOrder).Order()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if o.Condition != state.TriggerBelow || o.MarketIndex != 1 || !o.TriggerPrice.Eq(fpmath.MustParse("95.25")) {
		t.Errorf("trigger order: got %+v", o)
	}
}

func TestParseMessage(t *testing.T) {
	data := []byte(`{"type":"Deposit","intent":{"id":"dep-1","account":"550e8400-e29b-41d4-a716-446655440000","token":15,"quantity":1000000}}`)

	in, err := ingestion.ParseMessage(data)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	d := in.(*intent.Deposit)
	if d.Token != state.QuoteIndex || d.Quantity != 1_000_000 {
		t.Errorf("deposit: got %+v", d)
	}
}

func TestParseIntent_Rejections(t *testing.T) {
	tests := []struct {
		name string
		typ  intent.Type
		data string
	}{
		{"unknown type", "Teleport", `{"id":"x"}`},
		{"missing id", intent.TypeDeposit, `{"token":15,"quantity":1}`},
		{"unknown field", intent.TypeDeposit, `{"id":"x","amount":1}`},
		{"bad side", intent.TypePlacePerpOrder, `{"id":"x","side":"long"}`},
		{"bad uuid", intent.TypeWithdraw, `{"id":"x","account":"not-a-uuid"}`},
		{"not json", intent.TypeDeposit, `deposit please`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ingestion.ParseIntent(tt.typ, []byte(tt.data)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestTypeFromSubject(t *testing.T) {
	typ, err := ingestion.TypeFromSubject("lyrae.intents.SettlePnl")
	if err != nil || typ != intent.TypeSettlePnl {
		t.Fatalf("got %s, %v", typ, err)
	}
	for _, s := range []string{"SettlePnl", "lyrae.intents."} {
		if _, err := ingestion.TypeFromSubject(s); err == nil {
			t.Errorf("%q: expected an error", s)
		}
	}
}

func TestEveryIntentTypeParses(t *testing.T) {
	for _, typ := range intent.Types() {
		in, err := ingestion.ParseIntent(typ, []byte(`{"id":"k"}`))
		if err != nil {
			t.Errorf("%s: %v", typ, err)
			continue
		}
		if in.Type() != typ {
			t.Errorf("%s decoded as %s", typ, in.Type())
		}
	}
}
