package validator

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/sophon-provider/types"
)

const signer = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"

func rawParams(values ...interface{}) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		out = append(out, data)
	}
	return out
}

const typedDataDoc = `{
	"types": {
		"EIP712Domain": [
			{"name": "name", "type": "string"},
			{"name": "chainId", "type": "uint256"}
		],
		"Mail": [
			{"name": "contents", "type": "string"}
		]
	},
	"primaryType": "Mail",
	"domain": {"name": "Mailer", "chainId": "0x1"},
	"message": {"contents": "hello"}
}`

func TestNormalizeSignParams(t *testing.T) {
	data := []byte("a message to sign")
	hexData := hexutil.Encode(data)
	addr := common.HexToAddress(signer)

	t.Run("round trip", func(t *testing.T) {
		cases := []struct {
			method string
			params []json.RawMessage
			kind   types.SignKind
		}{
			{"eth_sign", rawParams(signer, hexData), types.SignKindRaw},
			{"personal_sign", rawParams(hexData, signer), types.SignKindPersonal},
		}
		for _, tc := range cases {
			t.Run(tc.method, func(t *testing.T) {
				normalized, err := NormalizeSignParams(tc.method, tc.params)
				require.NoError(t, err)
				require.Equal(t, addr, normalized.Address)
				require.Equal(t, data, normalized.Data)
				require.Equal(t, tc.kind, normalized.Kind)
			})
		}
	})

	t.Run("personal_sign utf8 data", func(t *testing.T) {
		normalized, err := NormalizeSignParams("personal_sign", rawParams("hello world", signer))
		require.NoError(t, err)
		require.Equal(t, []byte("hello world"), normalized.Data)
	})

	t.Run("typed data v4 as string", func(t *testing.T) {
		normalized, err := NormalizeSignParams("eth_signTypedData_v4", rawParams(signer, typedDataDoc))
		require.NoError(t, err)
		require.Equal(t, addr, normalized.Address)
		require.Equal(t, types.SignKindTypedDataV4, normalized.Kind)
		require.Equal(t, "Mail", normalized.TypedData.PrimaryType)
	})

	t.Run("typed data v3 as object", func(t *testing.T) {
		params := rawParams(signer)
		params = append(params, json.RawMessage(typedDataDoc))
		normalized, err := NormalizeSignParams("eth_signTypedData_v3", params)
		require.NoError(t, err)
		require.Equal(t, types.SignKindTypedDataV3, normalized.Kind)
	})

	t.Run("typed data v1 keeps raw payload", func(t *testing.T) {
		doc := `[{"type":"string","name":"greeting","value":"hi"}]`
		params := []json.RawMessage{json.RawMessage(doc)}
		params = append(params, rawParams(signer)...)
		normalized, err := NormalizeSignParams("eth_signTypedData", params)
		require.NoError(t, err)
		require.JSONEq(t, doc, string(normalized.Data))
		require.Equal(t, types.SignKindTypedDataV1, normalized.Kind)
	})

	t.Run("invalid address fails before anything else", func(t *testing.T) {
		for _, method := range []string{"eth_sign", "personal_sign", "eth_signTypedData", "eth_signTypedData_v3", "eth_signTypedData_v4"} {
			var params []json.RawMessage
			switch method {
			case "eth_sign", "eth_signTypedData_v3", "eth_signTypedData_v4":
				params = rawParams("0xnothex", hexData)
			default:
				params = rawParams(hexData, "0xnothex")
			}
			_, err := NormalizeSignParams(method, params)
			require.True(t, errors.Is(err, types.ErrInvalidParams), "%s: %v", method, err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		_, err := NormalizeSignParams("eth_sign", rawParams(signer))
		require.True(t, errors.Is(err, types.ErrInvalidParams))

		_, err = NormalizeSignParams("eth_sign", rawParams(signer, "0xzz"))
		require.True(t, errors.Is(err, types.ErrInvalidParams))

		_, err = NormalizeSignParams("eth_signTypedData_v4", rawParams(signer, `{"no":"types"}`))
		require.True(t, errors.Is(err, types.ErrInvalidParams))

		_, err = NormalizeSignParams("eth_signMagic", rawParams(signer, hexData))
		require.True(t, errors.Is(err, types.ErrUnsupportedMethod))
	})
}

func TestDataParamHexPrefixOnly(t *testing.T) {
	// a string that merely starts with 0x but is not valid hex must fail,
	// not silently pass through as utf8
	_, err := NormalizeSignParams("personal_sign", rawParams("0xgg", signer))
	require.True(t, errors.Is(err, types.ErrInvalidParams))
}
