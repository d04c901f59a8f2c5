package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/keeperhq/recoveryd/internal/chain"
)

// remoteBuilder delegates transaction assembly and signing to a signer
// daemon, typically on loopback. The daemon owns curve math, nonce and
// fee handling, and returns the fully signed transaction object ready
// for the node's write API.
type remoteBuilder struct {
	httpClient *retryablehttp.Client
	endpoint   string
}

var _ Builder = (*remoteBuilder)(nil)

// NewRemoteBuilder builds a Builder backed by the signer daemon at
// endpoint.
func NewRemoteBuilder(httpClient *retryablehttp.Client, endpoint string) *remoteBuilder {
	return &remoteBuilder{
		httpClient: httpClient,
		endpoint:   endpoint,
	}
}

type deploySignRequest struct {
	Address    string `json:"address"`
	SigningKey string `json:"signing_key"`
}

type transferSignRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	AmountWei  string `json:"amount_wei"`
	Memo       string `json:"memo,omitempty"`
	SigningKey string `json:"signing_key"`
}

func (b *remoteBuilder) Deploy(ctx context.Context, req chain.DeployRequest) (json.RawMessage, error) {
	return b.sign(ctx, "/v1/sign/deploy-account", deploySignRequest{
		Address:    req.Address,
		SigningKey: string(req.SigningKey),
	})
}

func (b *remoteBuilder) Transfer(ctx context.Context, req chain.TransferRequest) (json.RawMessage, error) {
	return b.sign(ctx, "/v1/sign/transfer", transferSignRequest{
		From:       req.From,
		To:         req.To,
		AmountWei:  req.Amount.Wei().String(),
		Memo:       req.Memo,
		SigningKey: string(req.SigningKey),
	})
}

func (b *remoteBuilder) sign(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signer returned status %d: %s", res.StatusCode, data)
	}
	return data, nil
}
