// Package effects executes the external token transfers that committed
// actions schedule. Transfers are persisted in the storage outbox inside the
// action's transaction and sent here after commit.
package effects

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/dapp_registry/internal/app/domain/transfer"
	"github.com/R3E-Network/dapp_registry/internal/httputil"
	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// TransferService moves tokens from the system account on the host ledger.
type TransferService interface {
	Transfer(ctx context.Context, t transfer.Transfer) error
}

// HTTPServiceConfig configures NewHTTPService.
type HTTPServiceConfig struct {
	BaseURL    string
	Path       string
	ServiceID  string
	Secret     []byte
	Timeout    time.Duration
	MaxRetries int
}

// HTTPService posts transfers to the host ledger's transfer endpoint. The
// transfer id is sent along so the endpoint can deduplicate retries.
type HTTPService struct {
	client *httputil.ServiceClient
	path   string
}

var _ TransferService = (*HTTPService)(nil)

// NewHTTPService creates an HTTP transfer client.
func NewHTTPService(cfg HTTPServiceConfig) *HTTPService {
	path := cfg.Path
	if path == "" {
		path = "/v1/transfers"
	}
	return &HTTPService{
		client: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL:    cfg.BaseURL,
			ServiceID:  cfg.ServiceID,
			Secret:     cfg.Secret,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
		}),
		path: path,
	}
}

type transferRequest struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	Quantity string `json:"quantity"`
	Amount   int64  `json:"amount"`
	Symbol   string `json:"symbol"`
	Memo     string `json:"memo"`
}

type transferResponse struct {
	TxID string `json:"tx_id"`
}

func (s *HTTPService) Transfer(ctx context.Context, t transfer.Transfer) error {
	resp, err := s.client.Post(ctx, s.path, transferRequest{
		ID:       t.ID,
		From:     t.From,
		To:       t.To,
		Quantity: t.Quantity.String(),
		Amount:   t.Quantity.Amount,
		Symbol:   t.Quantity.Symbol,
		Memo:     t.Memo,
	})
	if err != nil {
		return fmt.Errorf("transfer %s: %w", t.ID, err)
	}
	var out transferResponse
	if err := httputil.DecodeResponse(resp, &out); err != nil {
		return fmt.Errorf("transfer %s: %w", t.ID, err)
	}
	return nil
}

// LogService records transfers in the log without moving tokens. It stands in
// for the host ledger in local deployments.
type LogService struct {
	log *logger.Logger
}

var _ TransferService = (*LogService)(nil)

// NewLogService creates a LogService.
func NewLogService(log *logger.Logger) *LogService {
	if log == nil {
		log = logger.NewDefault("transfers")
	}
	return &LogService{log: log}
}

func (s *LogService) Transfer(ctx context.Context, t transfer.Transfer) error {
	s.log.WithContext(ctx).
		WithField("transfer_id", t.ID).
		WithField("from", t.From).
		WithField("to", t.To).
		WithField("quantity", t.Quantity.String()).
		WithField("memo", t.Memo).
		Info("transfer (dry run)")
	return nil
}
