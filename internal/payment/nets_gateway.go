package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"pawledger-be/internal/apperr"
	"pawledger-be/internal/logger"
	"pawledger-be/internal/money"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	netsRequestPath = "/api/v1/common/payments/nets-qr/request"
	netsQueryPath   = "/api/v1/common/payments/nets-qr/query"
)

type netsGateway struct {
	http   *httpClient
	apiKey string
}

func NewNetsQRGateway(baseURL, apiKey string, rps float64) QRGateway {
	if apiKey == "" {
		logger.L().Warn("NETS QR api key is empty")
	}
	return &netsGateway{
		http:   newHTTPClient("nets_qr", strings.TrimRight(baseURL, "/"), rps),
		apiKey: apiKey,
	}
}

func (n *netsGateway) header() http.Header {
	h := http.Header{}
	h.Set("api-key", n.apiKey)
	return h
}

type netsEnvelope[T any] struct {
	Result struct {
		Data T `json:"data"`
	} `json:"result"`
}

func (n *netsGateway) RequestQR(ctx context.Context, amount decimal.Decimal, reference string) (*QRRequest, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "gateway"),
		zap.String("method", "NetsRequestQR"),
		zap.String("reference", reference),
		zap.String("amount", money.Format(amount)),
	)

	body := map[string]any{
		"txn_id":         reference,
		"amt_in_dollars": money.Format(amount),
		"amt_in_cents":   money.MinorUnits(amount),
	}

	var res netsEnvelope[struct {
		ResponseCode    string `json:"response_code"`
		TxnStatus       int    `json:"txn_status"`
		TxnRetrievalRef string `json:"txn_retrieval_ref"`
		QRCode          string `json:"qr_code"`
	}]
	if err := n.http.do(ctx, http.MethodPost, netsRequestPath, n.header(), body, &res); err != nil {
		return nil, err
	}

	data := res.Result.Data
	if data.ResponseCode != qrResponseOK || data.TxnRetrievalRef == "" || data.QRCode == "" {
		log.Error("nets qr request rejected", zap.String("response_code", data.ResponseCode))
		return nil, apperr.Wrap(ErrGateway, fmt.Errorf("nets qr request rejected: response code %q", data.ResponseCode))
	}

	log.Info("nets qr issued", zap.String("txn_retrieval_ref", data.TxnRetrievalRef))
	return &QRRequest{TxnRetrievalRef: data.TxnRetrievalRef, QRPayload: data.QRCode}, nil
}

func (n *netsGateway) QueryStatus(ctx context.Context, txnRetrievalRef string) (*QRStatus, error) {
	body := map[string]any{
		"txn_retrieval_ref":       txnRetrievalRef,
		"frontend_timeout_status": 0,
	}

	var res netsEnvelope[struct {
		ResponseCode string `json:"response_code"`
		TxnStatus    int    `json:"txn_status"`
	}]
	if err := n.http.do(ctx, http.MethodPost, netsQueryPath, n.header(), body, &res); err != nil {
		return nil, err
	}

	return &QRStatus{ResponseCode: res.Result.Data.ResponseCode, TxnStatus: res.Result.Data.TxnStatus}, nil
}
