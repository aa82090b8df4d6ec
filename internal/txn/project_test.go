package txn

import (
	"bytes"
	"context"
	stdErrors "errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/network"
)

func TestRegisterProjectSubmitsRegistryCall(t *testing.T) {
	var buf bytes.Buffer
	clock := func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	submitter := &fakeSubmitter{id: " 0xreg "}
	o := NewOrchestrator(testnetConfig(), submitter, pendingReader(), nil,
		WithClock(clock), WithLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	receipt, err := o.RegisterProject(context.Background(), ProjectRegistration{
		Name: " Mangrove Bay ", ProjectType: "mangrove", Location: "Sundarbans", Owner: "ST1OWNER",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if receipt.TxID != "0xreg" || receipt.Owner != "ST1OWNER" || receipt.Network != network.Testnet {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if !receipt.SubmittedAt.Equal(clock()) {
		t.Fatalf("submitted at %v, want %v", receipt.SubmittedAt, clock())
	}
	if !regexp.MustCompile(`^BCR-1700000000123-[0-9a-f]{9}$`).MatchString(receipt.ProjectID) {
		t.Fatalf("unexpected project id %q", receipt.ProjectID)
	}

	if len(submitter.calls) != 1 {
		t.Fatalf("expected one signed call, got %d", len(submitter.calls))
	}
	call := submitter.calls[0]
	if id, _ := testnetConfig().Contract(network.ContractRegistry); call.ContractID != id {
		t.Fatalf("call sent to %s, want %s", call.ContractID, id)
	}
	if call.Function != FunctionRegisterProject || call.Sender != "ST1OWNER" || call.Network != network.Testnet {
		t.Fatalf("unexpected call: %+v", call)
	}
	if v, _ := call.Arg("name"); v != `"Mangrove Bay"` {
		t.Fatalf("name arg = %s", v)
	}
	if v, _ := call.Arg("project-id"); v != `"`+receipt.ProjectID+`"` {
		t.Fatalf("project-id arg = %s", v)
	}

	if list, _ := o.List(context.Background()); len(list) != 0 {
		t.Fatalf("registration must not enter the ledger: %+v", list)
	}
	if !strings.Contains(buf.String(), `"msg":"project registered"`) {
		t.Fatalf("audit record missing: %s", buf.String())
	}
}

func TestRegisterProjectKeepsCallerProjectID(t *testing.T) {
	submitter := &fakeSubmitter{id: "0x1"}
	o := NewOrchestrator(testnetConfig(), submitter, pendingReader(), nil)
	receipt, err := o.RegisterProject(context.Background(), ProjectRegistration{ProjectID: "p-77", Name: "Seagrass", Owner: "ST1"})
	if err != nil || receipt.ProjectID != "p-77" {
		t.Fatalf("unexpected result: %+v %v", receipt, err)
	}
}

func TestRegisterProjectFailures(t *testing.T) {
	ctx := context.Background()
	valid := ProjectRegistration{Name: "Salt Marsh", Owner: "ST1OWNER"}

	o := NewOrchestrator(testnetConfig(), &fakeSubmitter{id: "0x1"}, pendingReader(), nil)
	if _, err := o.RegisterProject(ctx, ProjectRegistration{Owner: "ST1"}); !xerrors.IsCode(err, CodeInvalidPayload) {
		t.Fatalf("missing name should be INVALID_PAYLOAD, got %v", err)
	}
	if _, err := o.RegisterProject(ctx, ProjectRegistration{Name: "x"}); !xerrors.IsCode(err, CodeInvalidPayload) {
		t.Fatalf("missing owner should be INVALID_PAYLOAD, got %v", err)
	}

	mainnet := network.DefaultResolver().Resolve(network.Mainnet)
	unsigned := &fakeSubmitter{id: "0x1"}
	if _, err := NewOrchestrator(mainnet, unsigned, pendingReader(), nil).RegisterProject(ctx, valid); !xerrors.IsCode(err, CodeSubmissionFailed) {
		t.Fatalf("undeployed registry should be SUBMISSION_FAILED, got %v", err)
	}
	if len(unsigned.calls) != 0 {
		t.Fatal("nothing should be signed when the contract is absent")
	}

	if _, err := NewOrchestrator(testnetConfig(), nil, pendingReader(), nil).RegisterProject(ctx, valid); !xerrors.IsCode(err, CodeSubmissionFailed) {
		t.Fatalf("missing signer should be SUBMISSION_FAILED, got %v", err)
	}

	rejected := &fakeSubmitter{err: stdErrors.New("user rejected the request")}
	_, err := NewOrchestrator(testnetConfig(), rejected, pendingReader(), nil).RegisterProject(ctx, valid)
	if !xerrors.IsCode(err, CodeSubmissionFailed) || !strings.Contains(err.Error(), "user rejected the request") {
		t.Fatalf("signing failure should wrap the cause, got %v", err)
	}
}
