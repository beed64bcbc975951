package httpapi

import (
	"net/http"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/asset"
	"github.com/R3E-Network/dapp_registry/internal/engine"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/internal/httputil"
	"github.com/R3E-Network/dapp_registry/internal/middleware"
)

// depositNotice is a token transfer observed by the transfer service.
type depositNotice struct {
	From     string
	To       string
	Quantity asset.Asset
	Memo     string
	TxID     string
}

type depositResponse struct {
	Credited bool           `json:"credited"`
	Reason   string         `json:"reason,omitempty"`
	Result   *engine.Result `json:"result,omitempty"`
}

// notifyDeposit credits transfers addressed to the system account. Other
// transfers are acknowledged without effect.
func (h *handler) notifyDeposit(w http.ResponseWriter, r *http.Request) {
	actor := middleware.Actor(r.Context())
	if actor != middleware.SystemActor {
		httputil.WriteError(w, errors.Unauthorized("deposit notifications require operator credentials"))
		return
	}
	body, err := readBody(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	notice, err := parseDepositNotice(body, h.precision)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	system := h.engine.SystemAccount()
	switch {
	case notice.To != system:
		httputil.WriteJSON(w, http.StatusOK, depositResponse{Reason: "transfer not addressed to " + system})
		return
	case notice.From == system:
		httputil.WriteJSON(w, http.StatusOK, depositResponse{Reason: "outgoing transfer"})
		return
	}

	res, err := h.engine.Deposit(r.Context(), notice.From, notice.Quantity, notice.TxID)
	h.record(r, actor, engine.VerbDeposit, err)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.log.WithContext(r.Context()).
		WithField("payer", notice.From).
		WithField("quantity", notice.Quantity.String()).
		WithField("tx_id", notice.TxID).
		Info("deposit credited")
	httputil.WriteJSON(w, http.StatusOK, depositResponse{Credited: true, Result: &res})
}

// parseDepositNotice reads a notification. quantity is either a
// "<decimal> <SYMBOL>" string or an {"amount","symbol"} object in smallest
// units.
func parseDepositNotice(body []byte, precision int) (depositNotice, error) {
	if !gjson.ValidBytes(body) {
		return depositNotice{}, errors.InvalidField("notification is not valid JSON")
	}
	fields := gjson.GetManyBytes(body, "from", "to", "quantity", "memo", "tx_id")
	notice := depositNotice{
		From: fields[0].String(),
		To:   fields[1].String(),
		Memo: fields[3].String(),
		TxID: fields[4].String(),
	}
	if notice.From == "" || notice.To == "" {
		return depositNotice{}, errors.InvalidField("notification needs from and to")
	}
	if notice.TxID == "" {
		return depositNotice{}, errors.InvalidField("notification needs tx_id")
	}

	quantity := fields[2]
	switch {
	case quantity.Type == gjson.String:
		q, err := asset.Parse(quantity.String(), precision)
		if err != nil {
			return depositNotice{}, err
		}
		notice.Quantity = q
	case quantity.IsObject():
		amount := quantity.Get("amount")
		if amount.Type != gjson.Number {
			return depositNotice{}, errors.InvalidAmount("quantity.amount must be a number")
		}
		units, err := strconv.ParseInt(amount.Raw, 10, 64)
		if err != nil {
			return depositNotice{}, errors.InvalidAmount("quantity.amount %s is not a whole number of smallest units", amount.Raw)
		}
		notice.Quantity = asset.New(units, quantity.Get("symbol").String())
	default:
		return depositNotice{}, errors.InvalidAmount("notification needs a quantity")
	}
	return notice, nil
}
