package polymarket

// trading.go: ejecución real de órdenes vía CLOB.
//
// Implementa ports.OrderExecutor sobre AuthClient. Las órdenes límite van
// como GTC (o GTD si traen expiración); las de mercado como FOK.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

// clobOrderRequest es el body de POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// clobOpenOrder es la respuesta de GET /data/order/{id}. Los tamaños vienen
// en shares, no en micro-unidades.
type clobOpenOrder struct {
	ID           string `json:"id"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
	Price        string `json:"price"`
	Status       string `json:"status"`
}

type clobCancelRequest struct {
	OrderID string `json:"orderID"`
}

type clobCancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// USDC.e en Polygon.
const usdcEAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

var balanceOfABI = mustABI(`[{
	"name":"balanceOf","type":"function",
	"inputs":[{"name":"account","type":"address"}],
	"outputs":[{"name":"","type":"uint256"}]
}]`)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("polymarket: abi: " + err.Error())
	}
	return a
}

var microUnit = decimal.New(1, 6)

// TradingClient implementa ports.OrderExecutor.
type TradingClient struct {
	auth *AuthClient
	rpc  *ethclient.Client // nil → GetBalance no disponible
}

// NewTradingClient crea el cliente. rpcURL vacío deshabilita el balance on-chain.
func NewTradingClient(auth *AuthClient, rpcURL string) (*TradingClient, error) {
	tc := &TradingClient{auth: auth}
	if rpcURL == "" {
		return tc, nil
	}
	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("trading: dial rpc: %w", err)
	}
	tc.rpc = rpc
	return tc, nil
}

// Close libera la conexión RPC.
func (tc *TradingClient) Close() {
	if tc.rpc != nil {
		tc.rpc.Close()
	}
}

// PlaceOrder firma y envía la orden. Un 4xx o un success=false del CLOB
// envuelven domain.ErrOrderRejected.
func (tc *TradingClient) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.PlacedOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: creds: %w", err)
	}
	creds, err := tc.auth.credentials()
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: %w", err)
	}

	signed, err := tc.auth.buildSignedOrder(req)
	if err != nil {
		return domain.PlacedOrder{}, fmt.Errorf("place order: sign: %w: %v", domain.ErrOrderRejected, err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       req.TokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          string(req.Side),
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     creds.APIKey,
		OrderType: orderType(req),
	}

	var resp clobOrderResponse
	if err := tc.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return domain.PlacedOrder{}, fmt.Errorf("place order: %w: %v", domain.ErrOrderRejected, err)
		}
		return domain.PlacedOrder{}, fmt.Errorf("place order: post: %w", err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return domain.PlacedOrder{}, fmt.Errorf("place order: %w: %s", domain.ErrOrderRejected, resp.ErrorMsg)
	}

	size, price := fillFromAmounts(req.Side, resp.MakingAmount, resp.TakingAmount)
	if size == 0 {
		price = req.Price
	}
	return domain.PlacedOrder{
		ExchangeOrderID: resp.OrderID,
		Status:          resp.Status,
		FilledSize:      size,
		FillPrice:       price,
	}, nil
}

// orderType mapea el time-in-force del request al tipo del CLOB.
func orderType(req domain.PlaceOrderRequest) string {
	switch {
	case strings.EqualFold(req.TimeInForce, "FOK"):
		return "FOK"
	case !req.Expiration.IsZero():
		return "GTD"
	default:
		return "GTC"
	}
}

// fillFromAmounts deriva shares y precio medio de los montos matcheados.
// BUY entrega USDC (making) y recibe shares (taking); SELL al revés.
func fillFromAmounts(side domain.OrderSide, making, taking string) (shares, price float64) {
	usdc, tokens := parseMicro(making), parseMicro(taking)
	if side == domain.OrderSell {
		usdc, tokens = tokens, usdc
	}
	if tokens.IsZero() {
		return 0, 0
	}
	shares, _ = tokens.Float64()
	price, _ = usdc.Div(tokens).Round(6).Float64()
	return shares, price
}

// parseMicro convierte un string en micro-unidades ("1500000") a unidades.
func parseMicro(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d.Div(microUnit)
}

// GetOrder consulta el estado de una orden y lo acumulado matcheado.
func (tc *TradingClient) GetOrder(ctx context.Context, exchangeOrderID string) (domain.ExchangeOrder, error) {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("get order: creds: %w", err)
	}
	var o clobOpenOrder
	if err := tc.auth.doL2(ctx, http.MethodGet, "/data/order/"+exchangeOrderID, nil, &o); err != nil {
		return domain.ExchangeOrder{}, fmt.Errorf("get order %s: %w", exchangeOrderID, err)
	}
	if o.ID == "" {
		o.ID = exchangeOrderID
	}
	return toExchangeOrder(o), nil
}

// CancelOrder cancela una orden. Si el CLOB ya no la tiene abierta
// (matcheada o cancelada) no es error.
func (tc *TradingClient) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	if err := tc.auth.EnsureCreds(ctx); err != nil {
		return fmt.Errorf("cancel order: creds: %w", err)
	}
	var resp clobCancelResponse
	if err := tc.auth.doL2(ctx, http.MethodDelete, "/order", clobCancelRequest{OrderID: exchangeOrderID}, &resp); err != nil {
		return fmt.Errorf("cancel order %s: %w", exchangeOrderID, err)
	}
	if reason, ok := resp.NotCanceled[exchangeOrderID]; ok && !alreadyDone(reason) {
		return fmt.Errorf("cancel order %s: %s", exchangeOrderID, reason)
	}
	return nil
}

func alreadyDone(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "matched") || strings.Contains(r, "canceled") ||
		strings.Contains(r, "cancelled") || strings.Contains(r, "not found")
}

// toExchangeOrder mapea el status del CLOB. LIVE y DELAYED siguen abiertas.
func toExchangeOrder(o clobOpenOrder) domain.ExchangeOrder {
	state := domain.ExchangeOrderLive
	upper := strings.ToUpper(o.Status)
	switch {
	case strings.Contains(upper, "MATCHED"):
		state = domain.ExchangeOrderMatched
	case strings.Contains(upper, "CANCEL") || strings.Contains(upper, "INVALID") || strings.Contains(upper, "EXPIRED"):
		state = domain.ExchangeOrderCancelled
	}
	return domain.ExchangeOrder{
		ExchangeOrderID: o.ID,
		State:           state,
		OriginalSize:    parseUnits(o.OriginalSize),
		MatchedSize:     parseUnits(o.SizeMatched),
		Price:           parseUnits(o.Price),
	}
}

func parseUnits(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

// GetBalance devuelve el balance on-chain de USDC.e de la wallet.
func (tc *TradingClient) GetBalance(ctx context.Context) (float64, error) {
	if tc.rpc == nil {
		return 0, fmt.Errorf("get balance: no rpc configured")
	}
	callData, err := balanceOfABI.Pack("balanceOf", tc.auth.address)
	if err != nil {
		return 0, fmt.Errorf("get balance: pack: %w", err)
	}

	token := common.HexToAddress(usdcEAddress)
	result, err := tc.rpc.CallContract(ctx, ethereum.CallMsg{To: &token, Data: callData}, nil)
	if err != nil {
		return 0, fmt.Errorf("get balance: rpc call: %w", err)
	}

	vals, err := balanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("get balance: unpack: %w", err)
	}
	raw, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("get balance: unexpected type %T", vals[0])
	}
	bal, _ := decimal.NewFromBigInt(raw, -6).Float64()
	return bal, nil
}
