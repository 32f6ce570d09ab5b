package validator

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ipfs-force-community/sophon-provider/types"
)

// NormalizeSignParams folds the method-specific positional parameter
// orders of the signing surface into the single {address, data} shape:
//
//	eth_sign:                 [address, data]
//	personal_sign:            [data, address]
//	eth_signTypedData(_v1):   [typedData, address]
//	eth_signTypedData_v3/v4:  [address, typedDataJSON]
func NormalizeSignParams(method string, params []json.RawMessage) (*types.SignParams, error) {
	switch method {
	case "eth_sign":
		if len(params) < 2 {
			return nil, types.ErrInvalidParams.WithDetail("%s expects [address, data]", method)
		}
		addr, err := addressParam(params[0])
		if err != nil {
			return nil, err
		}
		data, err := dataParam(params[1])
		if err != nil {
			return nil, err
		}
		return &types.SignParams{Address: addr, Data: data, Kind: types.SignKindRaw}, nil

	case "personal_sign":
		if len(params) < 2 {
			return nil, types.ErrInvalidParams.WithDetail("%s expects [data, address]", method)
		}
		addr, err := addressParam(params[1])
		if err != nil {
			return nil, err
		}
		data, err := dataParam(params[0])
		if err != nil {
			return nil, err
		}
		return &types.SignParams{Address: addr, Data: data, Kind: types.SignKindPersonal}, nil

	case "eth_signTypedData", "eth_signTypedData_v1":
		if len(params) < 2 {
			return nil, types.ErrInvalidParams.WithDetail("%s expects [typedData, address]", method)
		}
		addr, err := addressParam(params[1])
		if err != nil {
			return nil, err
		}
		return &types.SignParams{Address: addr, Data: params[0], Kind: types.SignKindTypedDataV1}, nil

	case "eth_signTypedData_v3", "eth_signTypedData_v4":
		if len(params) < 2 {
			return nil, types.ErrInvalidParams.WithDetail("%s expects [address, typedData]", method)
		}
		addr, err := addressParam(params[0])
		if err != nil {
			return nil, err
		}
		typedData, err := typedDataParam(params[1])
		if err != nil {
			return nil, err
		}
		kind := types.SignKindTypedDataV3
		if method == "eth_signTypedData_v4" {
			kind = types.SignKindTypedDataV4
		}
		return &types.SignParams{Address: addr, TypedData: *typedData, Kind: kind}, nil

	default:
		return nil, types.ErrUnsupportedMethod.WithDetail("%s", method)
	}
}

func addressParam(raw json.RawMessage) (common.Address, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return common.Address{}, types.ErrInvalidParams.WithDetail("address parameter is not a string")
	}
	return ValidateAddress(s)
}

// dataParam accepts hex-encoded bytes or a plain utf-8 string, the two
// encodings pages actually send.
func dataParam(raw json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("data parameter is not a string")
	}
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		data, err := hexutil.Decode(s)
		if err != nil {
			return nil, types.ErrInvalidParams.WithDetail("malformed hex data: %v", err)
		}
		return data, nil
	}
	return []byte(s), nil
}

// typedDataParam parses the v3/v4 payload, which arrives either as a JSON
// string containing the typed data document or as the object itself.
func typedDataParam(raw json.RawMessage) (*apitypes.TypedData, error) {
	doc := raw
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		doc = json.RawMessage(s)
	}
	var typedData apitypes.TypedData
	if err := json.Unmarshal(doc, &typedData); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("malformed typed data: %v", err)
	}
	if len(typedData.Types) == 0 || typedData.PrimaryType == "" {
		return nil, types.ErrInvalidParams.WithDetail("typed data misses types or primaryType")
	}
	return &typedData, nil
}
