package polymarket

// auth.go: cliente autenticado del CLOB.
//
// Dos niveles:
//   L1: firma EIP-712 con la private key → deriva las API credentials
//   L2: HMAC-SHA256 de cada request autenticada

import (
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	gomodel "github.com/polymarket/go-order-utils/pkg/model"

	"github.com/alejandrodnm/polytrader/internal/domain"
)

const (
	polygonChainID = int64(137)

	clobDomainName    = "ClobAuthDomain"
	clobDomainVersion = "1"
	clobAuthMessage   = "This message attests that I control the given wallet"

	// Taker = zero address → orden pública
	zeroAddress = "0x0000000000000000000000000000000000000000"

	// El CLOB exige expiraciones al menos 60s en el futuro para GTD.
	gtdSecurityMargin = 60 * time.Second
)

// apiCredentials son las credenciales L2 derivadas de la wallet.
type apiCredentials struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// AuthClient añade auth L1/L2 sobre el Client.
type AuthClient struct {
	*Client
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	orderBuilder builder.ExchangeOrderBuilder

	credsMu sync.Mutex
	creds   *apiCredentials
}

// NewAuthClient crea el cliente de trading. privateKeyHex es la key de
// Polygon, con o sin prefijo 0x.
func NewAuthClient(c *Client, privateKeyHex string) (*AuthClient, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("auth: invalid private key: %w", err)
	}
	return &AuthClient{
		Client:       c,
		privateKey:   key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		orderBuilder: builder.NewExchangeOrderBuilderImpl(big.NewInt(polygonChainID), nil),
	}, nil
}

// Address devuelve la dirección de la wallet.
func (ac *AuthClient) Address() string {
	return ac.address.Hex()
}

// EnsureCreds deriva las API credentials vía L1 la primera vez y las cachea.
func (ac *AuthClient) EnsureCreds(ctx context.Context) error {
	ac.credsMu.Lock()
	defer ac.credsMu.Unlock()
	if ac.creds != nil {
		return nil
	}

	ts := strconv.FormatInt(ac.now().Unix(), 10)
	sig, err := ac.signClobAuth(ts, "0")
	if err != nil {
		return fmt.Errorf("auth: sign l1: %w", err)
	}

	var creds apiCredentials
	wait := func(ctx context.Context) error { return ac.limits.Wait(ctx, endpointCLOB) }
	err = ac.doWithRetry(ctx, wait, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ac.clobBase+"/auth/derive-api-key", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("POLY_ADDRESS", ac.address.Hex())
		req.Header.Set("POLY_SIGNATURE", sig)
		req.Header.Set("POLY_TIMESTAMP", ts)
		req.Header.Set("POLY_NONCE", "0")
		return ac.http.Do(req)
	}, &creds)
	if err != nil {
		return fmt.Errorf("auth: derive-api-key: %w", err)
	}
	if creds.APIKey == "" || creds.Secret == "" {
		return fmt.Errorf("auth: derive-api-key returned empty credentials")
	}
	ac.creds = &creds
	return nil
}

func (ac *AuthClient) credentials() (*apiCredentials, error) {
	ac.credsMu.Lock()
	defer ac.credsMu.Unlock()
	if ac.creds == nil {
		return nil, fmt.Errorf("auth: credentials not derived yet")
	}
	return ac.creds, nil
}

// Type hashes EIP-712 (se calculan una vez).
var (
	eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId)",
	))
	clobAuthTypeHash = crypto.Keccak256Hash([]byte(
		"ClobAuth(address address,string timestamp,uint256 nonce,string message)",
	))
	clobAuthDomainSeparator = func() common.Hash {
		var buf []byte
		buf = append(buf, eip712DomainTypeHash.Bytes()...)
		buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainName)).Bytes()...)
		buf = append(buf, crypto.Keccak256Hash([]byte(clobDomainVersion)).Bytes()...)
		buf = append(buf, common.LeftPadBytes(big.NewInt(polygonChainID).Bytes(), 32)...)
		return crypto.Keccak256Hash(buf)
	}()
)

// signClobAuth firma el typed data ClobAuth para L1.
func (ac *AuthClient) signClobAuth(timestamp, nonce string) (string, error) {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return "", fmt.Errorf("invalid nonce: %s", nonce)
	}

	var structBuf []byte
	structBuf = append(structBuf, clobAuthTypeHash.Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(ac.address.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(timestamp)).Bytes()...)
	structBuf = append(structBuf, common.LeftPadBytes(nonceInt.Bytes(), 32)...)
	structBuf = append(structBuf, crypto.Keccak256Hash([]byte(clobAuthMessage)).Bytes()...)
	structHash := crypto.Keccak256Hash(structBuf)

	rawBuf := []byte{0x19, 0x01}
	rawBuf = append(rawBuf, clobAuthDomainSeparator.Bytes()...)
	rawBuf = append(rawBuf, structHash.Bytes()...)

	sig, err := crypto.Sign(crypto.Keccak256(rawBuf), ac.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return fmt.Sprintf("0x%x", sig), nil
}

// l2Headers genera las cabeceras HMAC. El timestamp va en la firma, así que
// se regeneran en cada intento.
func (ac *AuthClient) l2Headers(method, path, body string) (http.Header, error) {
	creds, err := ac.credentials()
	if err != nil {
		return nil, err
	}
	secret, err := base64.URLEncoding.DecodeString(creds.Secret)
	if err != nil {
		return nil, fmt.Errorf("auth: decode secret: %w", err)
	}

	ts := strconv.FormatInt(ac.now().Unix(), 10)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + strings.ToUpper(method) + path + body))

	h := http.Header{}
	h.Set("POLY_ADDRESS", ac.address.Hex())
	h.Set("POLY_SIGNATURE", base64.URLEncoding.EncodeToString(mac.Sum(nil)))
	h.Set("POLY_TIMESTAMP", ts)
	h.Set("POLY_API_KEY", creds.APIKey)
	h.Set("POLY_PASSPHRASE", creds.Passphrase)
	return h, nil
}

// doL2 ejecuta una request autenticada con rate limiting y retries.
func (ac *AuthClient) doL2(ctx context.Context, method, path string, reqBody, out any) error {
	var body string
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		body = string(b)
	}

	wait := func(ctx context.Context) error { return ac.limits.Wait(ctx, endpointCLOB) }
	return ac.doWithRetry(ctx, wait, func() (*http.Response, error) {
		headers, err := ac.l2Headers(method, path, body)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, ac.clobBase+path, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header = headers
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return ac.http.Do(req)
	}, out)
}

// buildSignedOrder firma una orden EIP-712. req.Size son shares.
// Usa aritmética entera: el CLOB verifica makerAmount == price * takerAmount
// exactamente y rechaza errores de redondeo.
func (ac *AuthClient) buildSignedOrder(req domain.PlaceOrderRequest) (*gomodel.SignedOrder, error) {
	precision := detectPricePrecision(req.Price)
	priceInt := int64(math.Round(req.Price * float64(precision)))
	sharesCents := int64(math.Floor(req.Size * 100))

	amountFactor := int64(1_000_000) / (100 * precision)
	usdcAmount := sharesCents * priceInt * amountFactor
	shareAmount := sharesCents * 10_000
	if usdcAmount <= 0 || shareAmount <= 0 {
		return nil, fmt.Errorf("invalid amounts: usdc=%d shares=%d (price=%.4f size=%.4f)",
			usdcAmount, shareAmount, req.Price, req.Size)
	}

	// BUY entrega USDC y recibe shares; SELL al revés.
	side := gomodel.BUY
	maker, taker := usdcAmount, shareAmount
	if req.Side == domain.OrderSell {
		side = gomodel.SELL
		maker, taker = shareAmount, usdcAmount
	}

	expiration := "0"
	if !req.Expiration.IsZero() {
		expiration = strconv.FormatInt(req.Expiration.Add(gtdSecurityMargin).Unix(), 10)
	}

	contract := gomodel.CTFExchange
	if req.NegRisk {
		contract = gomodel.NegRiskCTFExchange
	}

	signed, err := ac.orderBuilder.BuildSignedOrder(ac.privateKey, &gomodel.OrderData{
		Maker:         ac.address.Hex(),
		Taker:         zeroAddress,
		TokenId:       req.TokenID,
		MakerAmount:   strconv.FormatInt(maker, 10),
		TakerAmount:   strconv.FormatInt(taker, 10),
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        ac.address.Hex(),
		Expiration:    expiration,
		Side:          side,
		SignatureType: gomodel.EOA,
	}, contract)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}
	return signed, nil
}

// detectPricePrecision devuelve el multiplicador del tick del mercado.
// price=0.60 → 100 (tick 0.01), price=0.673 → 1000 (tick 0.001).
func detectPricePrecision(price float64) int64 {
	for _, prec := range []int64{100, 1000, 10000} {
		rounded := math.Round(price * float64(prec))
		if math.Abs(rounded/float64(prec)-price) < 1e-10 {
			return prec
		}
	}
	return 100
}
