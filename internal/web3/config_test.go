package web3

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadChainDefinitionsExpandsEnv(t *testing.T) {
	t.Setenv("ALCHEMY_API_KEY", "alchemy-test")
	path := filepath.Join(t.TempDir(), "chains.yaml")
	content := `chains:
  polygon:
    chain_id: "137"
    rpc_url: https://polygon-rpc.com
    spender: "0x0000000000000000000000000000000000000abc"
  mainnet:
    type: ethereum
    chain_id: "1"
    rpc_url: https://eth-mainnet.g.alchemy.com/v2/${ALCHEMY_API_KEY}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	defs, err := LoadChainDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	mainnet := defs[0]
	assert.Equal(t, "mainnet", mainnet.Name)
	assert.Equal(t, "evm", mainnet.Type)
	assert.Equal(t, "https://eth-mainnet.g.alchemy.com/v2/alchemy-test", mainnet.RPCURL)
	assert.Equal(t, DefaultSpender, mainnet.Spender)
	assert.Equal(t, "0x0000000000000000000000000000000000000abc", defs[1].Spender)
}

func TestLoadChainDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadChainDefinitions("")
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestParseChainDefinitionsRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"unknown type":  "chains:\n  sol:\n    type: solana\n    chain_id: \"101\"\n",
		"missing id":    "chains:\n  mainnet:\n    rpc_url: http://localhost:8545\n",
		"duplicate id":  "chains:\n  a:\n    chain_id: \"1\"\n  b:\n    chain_id: \"1\"\n",
		"unknown field": "chains:\n  mainnet:\n    chain_id: \"1\"\n    ws_url: ws://localhost\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChainDefinitions([]byte(content))
			assert.Error(t, err)
		})
	}
}

func TestLoadSampleChains(t *testing.T) {
	t.Setenv("ALCHEMY_API_KEY", "k")
	defs, err := LoadChainDefinitions(filepath.Join("..", "..", "configs", "chains.yaml"))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "1", defs[0].ChainID)
	assert.Equal(t, "42161", defs[1].ChainID)
}
