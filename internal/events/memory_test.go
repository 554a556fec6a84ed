package events

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestMemoryPublisherDeliversAndTrims(t *testing.T) {
	pub := NewMemoryPublisher(2)
	ch, cancel := pub.Subscribe(8)
	defer cancel()

	batch := []Event{
		{Name: "buyDToken", Key: "r1", Account: common.HexToAddress("0x1"), Amount: big.NewInt(1)},
		{Name: "useToken", Key: "r1"},
		{Name: "withdraw", Key: "r1"},
	}
	if err := pub.Publish(context.Background(), batch); err != nil {
		t.Fatalf("publish: %v", err)
	}
	history := pub.History()
	if len(history) != 2 || history[0].Name != "useToken" {
		t.Fatalf("unexpected history: %+v", history)
	}
	for i := 0; i < len(batch); i++ {
		ev := <-ch
		if ev.Name != batch[i].Name {
			t.Fatalf("event %d = %s, want %s", i, ev.Name, batch[i].Name)
		}
	}
}

func TestEventEncodeRoundTrip(t *testing.T) {
	ev := Event{ID: "e1", Name: "withdraw", Key: "k", Account: common.HexToAddress("0xabc"), Amount: big.NewInt(900)}
	data, err := ev.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Account != ev.Account || decoded.Amount.Cmp(ev.Amount) != 0 {
		t.Fatalf("decoded mismatch: %+v", decoded)
	}
}
