package api

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"DDXF-Market/internal/contracts/currency"
	"DDXF-Market/internal/contracts/ledger"
	"DDXF-Market/internal/contracts/marketplace"
	"DDXF-Market/internal/contracts/settlement"
	xerrors "DDXF-Market/internal/errors"
	"DDXF-Market/internal/runtime"
)

func query[R any](ctx context.Context, chain Chain, contract common.Address, method string, args any) (R, error) {
	var out R
	raw, err := runtime.EncodeArgs(args)
	if err != nil {
		return out, err
	}
	ret, err := chain.Query(ctx, contract, method, raw)
	if err != nil {
		return out, err
	}
	err = runtime.DecodeResult(ret, &out)
	return out, err
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	item, err := query[*marketplace.ResourceItem](r.Context(), s.chain, s.contracts.Marketplace,
		marketplace.MethodGetSellerItemInfo, &marketplace.ResourceArgs{ResourceID: id})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, itemView(item))
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	template, holder := r.PathValue("template"), r.PathValue("holder")
	if !common.IsHexAddress(holder) {
		writeError(w, xerrors.Newf(xerrors.CodeInvalidArgument, "非法的地址 %q", holder))
		return
	}
	account := common.HexToAddress(holder)
	q, err := query[*ledger.HolderQuota](r.Context(), s.chain, s.contracts.Ledger,
		ledger.MethodGetCountAndAgent, &ledger.QuotaArgs{TemplateID: template, Account: account})
	if err != nil {
		writeError(w, err)
		return
	}
	view := QuotaView{TemplateID: template, Holder: account, Count: q.Count, Agents: make([]AgentView, 0, len(q.Agents))}
	for _, a := range q.Agents {
		view.Agents = append(view.Agents, AgentView{Agent: a.Agent, Count: a.Count})
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	param, err := query[*settlement.RegisterParam](r.Context(), s.chain, s.contracts.Settlement,
		settlement.MethodGetRegisterParam, &settlement.KeyArgs{Key: key})
	if err != nil {
		writeError(w, err)
		return
	}
	escrow, err := query[*big.Int](r.Context(), s.chain, s.contracts.Settlement,
		settlement.MethodGetBalance, &settlement.KeyArgs{Key: key})
	if err != nil {
		writeError(w, err)
		return
	}
	view := SettlementView{
		Key:           key,
		Currency:      param.Currency.Kind.String(),
		Beneficiaries: make([]BeneficiaryView, 0, len(param.Beneficiaries)),
		Escrow:        amountString(escrow),
	}
	for _, b := range param.Beneficiaries {
		view.Beneficiaries = append(view.Beneficiaries, BeneficiaryView{Address: b.Address, Weight: b.Weight, HasWithdrawn: b.HasWithdrawn})
	}
	writeJSON(w, http.StatusOK, view)
}

func feeView(f currency.Fee) FeeView {
	return FeeView{Amount: amountString(f.Amount), Currency: f.Currency.Kind.String(), Contract: f.Currency.Contract}
}

func itemView(item *marketplace.ResourceItem) ItemView {
	templates := item.Item.TemplateIDs
	if templates == nil {
		templates = []string{}
	}
	return ItemView{
		ResourceID:   item.ResourceID,
		Manager:      item.DDO.Manager,
		ItemMetaHash: item.DDO.ItemMetaHash,
		Ledger:       item.DDO.Ledger,
		Accountant:   item.DDO.Accountant,
		SplitPolicy:  item.DDO.SplitPolicy,
		Fee:          feeView(item.Item.Fee),
		Expiry:       item.Item.Expiry,
		Stock:        item.Item.Stock,
		Sold:         item.Sold,
		TemplateIDs:  templates,
		Frozen:       item.Frozen,
	}
}
