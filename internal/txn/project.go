package txn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/network"
)

// FunctionRegisterProject 在注册表合约上登记新项目。
const FunctionRegisterProject = "register-project"

// ProjectRegistration 描述一个待登记的蓝碳项目。ProjectID 为空时自动生成。
type ProjectRegistration struct {
	ProjectID   string
	Name        string
	ProjectType string
	Location    string
	Owner       string
}

// ProjectReceipt 是登记调用被链接受后的回执。
type ProjectReceipt struct {
	ProjectID   string          `json:"project_id"`
	TxID        string          `json:"tx_id"`
	Network     network.Network `json:"network"`
	Owner       string          `json:"owner"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// NewProjectID 生成 BCR-<unix ms>-<9 位随机串> 形式的项目 ID。
func NewProjectID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("BCR-%d-%s", now.UnixMilli(), suffix)
}

// Validate 检查登记参数。
func (p ProjectRegistration) Validate() error {
	switch {
	case blank(p.Name):
		return invalidPayload("register project: name is required")
	case blank(p.Owner):
		return invalidPayload("register project: owner is required")
	}
	return nil
}

func (p ProjectRegistration) call(contractID string) ContractCall {
	return ContractCall{
		ContractID: contractID,
		Function:   FunctionRegisterProject,
		Sender:     p.Owner,
		Args: []ClarityArg{
			{Name: "project-id", Value: clarityString(p.ProjectID)},
			{Name: "name", Value: clarityString(p.Name)},
			{Name: "project-type", Value: clarityString(p.ProjectType)},
			{Name: "location", Value: clarityString(p.Location)},
			{Name: "owner", Value: clarityPrincipal(p.Owner)},
		},
	}
}

// RegisterProject 通过 Submitter 在注册表合约上登记项目。
//
// 登记不产生碳信用变动，不写入交易账本；调用方可用回执中的 TxID 查询状态。
// 参数不合法返回 INVALID_PAYLOAD，合约未部署、没有签名方或提交失败返回
// SUBMISSION_FAILED。
func (o *Orchestrator) RegisterProject(ctx context.Context, reg ProjectRegistration) (ProjectReceipt, error) {
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Owner = strings.TrimSpace(reg.Owner)
	if err := reg.Validate(); err != nil {
		return ProjectReceipt{}, err
	}
	now := o.now()
	if blank(reg.ProjectID) {
		reg.ProjectID = NewProjectID(now)
	}
	meta := xerrors.WithMetadata("project_id", reg.ProjectID)

	contractID, deployed := o.network.Contract(network.ContractRegistry)
	if !deployed {
		return ProjectReceipt{}, xerrors.New(CodeSubmissionFailed,
			fmt.Sprintf("contract %s is not deployed on %s", network.ContractRegistry, o.network.Network), meta)
	}
	if o.submitter == nil {
		return ProjectReceipt{}, xerrors.New(CodeSubmissionFailed, "no signer available for submission", meta)
	}

	call := reg.call(contractID)
	call.Network = o.network.Network
	txID, err := o.submitter.SignAndSubmit(ctx, call)
	if err != nil {
		o.logger.Warn("项目登记失败",
			slog.String("project_id", reg.ProjectID),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		return ProjectReceipt{}, xerrors.Wrap(CodeSubmissionFailed, err, "register project", meta)
	}
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return ProjectReceipt{}, xerrors.New(CodeSubmissionFailed, "backend returned an empty transaction id", meta)
	}

	o.audit.Info("project registered",
		slog.String("project_id", reg.ProjectID),
		slog.String("tx_id", txID),
		slog.String("owner", reg.Owner),
		slog.String("network", string(o.network.Network)),
	)
	return ProjectReceipt{
		ProjectID:   reg.ProjectID,
		TxID:        txID,
		Network:     o.network.Network,
		Owner:       reg.Owner,
		SubmittedAt: now,
	}, nil
}
