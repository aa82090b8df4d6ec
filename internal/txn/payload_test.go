package txn

import (
	"testing"

	"cosmossdk.io/math"

	xerrors "BlueCarbon-Chain/internal/errors"
)

func TestNormalizePayloadRejectsContractViolations(t *testing.T) {
	valid := MintPayload{ProjectID: "p1", ProjectName: "Mangrove", Amount: math.NewInt(5), Owner: "ST1OWNER"}

	cases := []struct {
		name    string
		kind    Kind
		payload Payload
	}{
		{"nil payload", KindMint, nil},
		{"nil pointer", KindMint, (*MintPayload)(nil)},
		{"unknown kind", Kind("burn"), valid},
		{"kind mismatch", KindTransfer, valid},
		{"missing project", KindMint, MintPayload{Amount: math.NewInt(1), Owner: "ST1"}},
		{"zero amount", KindMint, MintPayload{ProjectID: "p", Owner: "ST1", Amount: math.ZeroInt()}},
		{"unset amount", KindMint, MintPayload{ProjectID: "p", Owner: "ST1"}},
		{"negative amount", KindRetire, RetirePayload{TokenID: "t", Owner: "ST1", Reason: "offset", Amount: math.NewInt(-3)}},
		{"self transfer", KindTransfer, TransferPayload{TokenID: "t", From: "ST1", To: "ST1", Amount: math.NewInt(1)}},
		{"missing reason", KindRetire, RetirePayload{TokenID: "t", Owner: "ST1", Amount: math.NewInt(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := normalizePayload(tc.kind, tc.payload)
			if !xerrors.IsCode(err, CodeInvalidPayload) {
				t.Fatalf("expected INVALID_PAYLOAD, got %v", err)
			}
		})
	}

	got, err := normalizePayload(KindMint, &valid)
	if err != nil {
		t.Fatalf("pointer payload should be accepted: %v", err)
	}
	if _, ok := got.(MintPayload); !ok {
		t.Fatalf("expected value payload, got %T", got)
	}
}

func TestContractCallEncodesClarityArgs(t *testing.T) {
	call := TransferPayload{TokenID: "BCR-p1-1", From: "ST1FROM", To: "ST2TO", Amount: math.NewInt(30)}.
		call("ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM.blue-carbon-registry")

	if call.Function != FunctionTransfer || call.Sender != "ST1FROM" {
		t.Fatalf("unexpected call: %+v", call)
	}
	addr, name := call.Contract()
	if addr != "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM" || name != "blue-carbon-registry" {
		t.Fatalf("unexpected contract split: %s %s", addr, name)
	}
	if v, _ := call.Arg("amount"); v != "u30" {
		t.Fatalf("amount arg = %q", v)
	}
	if v, _ := call.Arg("recipient"); v != "'ST2TO" {
		t.Fatalf("recipient arg = %q", v)
	}
	if v, _ := call.Arg("token-id"); v != `"BCR-p1-1"` {
		t.Fatalf("token arg = %q", v)
	}
}

func TestParseAmount(t *testing.T) {
	for raw, want := range map[string]bool{
		"0":      true,
		"1000":   true,
		" 42 ":   true,
		"":       false,
		"-1":     false,
		"0x10":   false,
		"1.5":    false,
		"1_000":  false,
		"abc":    false,
		"+7":     false,
		"u100":   false,
	} {
		_, ok := ParseAmount(raw)
		if ok != want {
			t.Errorf("ParseAmount(%q) ok=%v, want %v", raw, ok, want)
		}
	}
	if _, ok := ParseAmount("100000000000000000000000000000"); !ok {
		t.Fatal("amounts beyond int64 must parse")
	}
	if v, ok := ParseClarityUint("u250"); !ok || !v.Equal(math.NewInt(250)) {
		t.Fatalf("ParseClarityUint: %v %v", v, ok)
	}
	if _, ok := ParseClarityUint("250"); ok {
		t.Fatal("plain digits are not a clarity uint")
	}
}
