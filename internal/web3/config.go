package web3

import (
	"bytes"
	"cmp"
	"errors"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "swappilot/internal/errors"
)

// DefaultSpender is the 1inch v5 aggregation router, identical on every
// chain 1inch supports.
const DefaultSpender = "0x1111111254EEB25477B68fb85Ed929f73A960582"

// ChainDefinition is one entry of configs/chains.yaml after normalisation.
type ChainDefinition struct {
	Name        string `yaml:"-"`
	Type        string `yaml:"type"`
	ChainID     string `yaml:"chain_id"`
	RPCURL      string `yaml:"rpc_url"`
	Spender     string `yaml:"spender"`
	Description string `yaml:"description"`
}

// LoadChainDefinitions reads the chain file and returns its entries ordered
// by chain id. An empty path yields no definitions.
func LoadChainDefinitions(path string) ([]ChainDefinition, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取链配置失败")
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes chain definitions from YAML, rejecting
// unknown keys. ${VAR} references in rpc_url are expanded.
func ParseChainDefinitions(content []byte) ([]ChainDefinition, error) {
	var doc struct {
		Chains map[string]ChainDefinition `yaml:"chains"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析链配置失败")
	}

	defs := make([]ChainDefinition, 0, len(doc.Chains))
	for name, def := range doc.Chains {
		def.Name = name
		if err := def.normalize(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	slices.SortFunc(defs, func(a, b ChainDefinition) int {
		return cmp.Or(cmp.Compare(a.ChainID, b.ChainID), cmp.Compare(a.Name, b.Name))
	})
	for i := 1; i < len(defs); i++ {
		if defs[i].ChainID == defs[i-1].ChainID {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "链 "+defs[i-1].Name+" 与 "+defs[i].Name+" 使用了相同的 chain_id")
		}
	}
	return defs, nil
}

func (d *ChainDefinition) normalize() error {
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	switch d.Type {
	case "", "evm", "ethereum":
		d.Type = "evm"
	default:
		return xerrors.New(xerrors.CodeInitializationFailure, "链 "+d.Name+" 使用了不支持的类型 "+d.Type)
	}
	d.ChainID = strings.TrimSpace(d.ChainID)
	if d.ChainID == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "链 "+d.Name+" 缺少 chain_id")
	}
	d.RPCURL = os.ExpandEnv(strings.TrimSpace(d.RPCURL))
	d.Spender = cmp.Or(strings.TrimSpace(d.Spender), DefaultSpender)
	return nil
}
