package crypto

import (
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/pkg/errors"

	"github.com/screa/keyspace-scanner/pkg/types"
)

// ErrInvalidScalar is returned for key material that is zero or not below the curve order
var ErrInvalidScalar = errors.New("key material is not a valid secp256k1 scalar")

// schemeHandler encodes a compressed public key hash under one scheme
type schemeHandler struct {
	scheme types.Scheme
	encode func(pubKeyHash []byte, params *chaincfg.Params) (string, error)
}

// schemes is the fixed, ordered list of encodings computed for every key
var schemes = [...]schemeHandler{
	{scheme: types.SchemeLegacy, encode: encodeP2PKH},
	{scheme: types.SchemeWrappedSegwit, encode: encodeP2SHP2WPKH},
	{scheme: types.SchemeNativeSegwit, encode: encodeP2WPKH},
}

// Deriver maps key material to its addresses. It holds no mutable state and
// is safe for concurrent use.
type Deriver struct {
	params *chaincfg.Params
}

// NewDeriver creates a deriver for the given network
func NewDeriver(params *chaincfg.Params) *Deriver {
	if params == nil {
		params = &chaincfg.MainNetParams
	}
	return &Deriver{params: params}
}

// Params returns the network the deriver encodes for
func (d *Deriver) Params() *chaincfg.Params {
	return d.params
}

// Derive returns one address per scheme that could be encoded, in scheme order.
// Invalid scalars return an empty slice and ErrInvalidScalar. A scheme that
// fails to encode is left out without an error.
func (d *Deriver) Derive(key types.KeyMaterial) ([]types.DerivedAddress, error) {
	priv, err := privateKey(key)
	if err != nil {
		return nil, err
	}

	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())

	out := make([]types.DerivedAddress, 0, len(schemes))
	for _, h := range schemes {
		addr, err := h.encode(pubKeyHash, d.params)
		if err != nil {
			continue
		}
		out = append(out, types.DerivedAddress{Scheme: h.scheme, Address: addr})
	}
	return out, nil
}

// WIF returns the compressed wallet import format encoding of key
func (d *Deriver) WIF(key types.KeyMaterial) (string, error) {
	priv, err := privateKey(key)
	if err != nil {
		return "", err
	}
	wif, err := btcutil.NewWIF(priv, d.params, true)
	if err != nil {
		return "", errors.Wrap(err, "encode wif")
	}
	return wif.String(), nil
}

// ValidScalar reports whether key is in [1, n-1]
func ValidScalar(key types.KeyMaterial) bool {
	var s btcec.ModNScalar
	if overflow := s.SetByteSlice(key[:]); overflow {
		return false
	}
	return !s.IsZero()
}

// NetworkParams resolves a network name to its chain parameters
func NetworkParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, errors.Errorf("unknown network %q", name)
	}
}

// ---- helpers ----

func privateKey(key types.KeyMaterial) (*btcec.PrivateKey, error) {
	if !ValidScalar(key) {
		return nil, ErrInvalidScalar
	}
	priv, _ := btcec.PrivKeyFromBytes(key[:])
	return priv, nil
}

func encodeP2PKH(pubKeyHash []byte, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func encodeP2WPKH(pubKeyHash []byte, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

func encodeP2SHP2WPKH(pubKeyHash []byte, params *chaincfg.Params) (string, error) {
	witness, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return "", err
	}
	redeemScript, err := txscript.PayToAddrScript(witness)
	if err != nil {
		return "", err
	}
	addr, err := btcutil.NewAddressScriptHash(redeemScript, params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}
