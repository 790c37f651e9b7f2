package ethereum

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"go.uber.org/mock/gomock"

	"swappilot/internal/swap"
	"swappilot/internal/web3/ethereum/mock"
)

const (
	owner   = "0x00000000000000000000000000000000000000aa"
	spender = "0x1111111254EEB25477B68fb85Ed929f73A960582"
)

var usdc = swap.Token{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}

func TestSimulatedNativeBalanceAndBlock(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	funded := new(big.Int).Mul(big.NewInt(3), big.NewInt(1_000_000_000_000_000_000))

	backend := simulated.NewBackend(coretypes.GenesisAlloc{addr: {Balance: funded}})
	t.Cleanup(func() { _ = backend.Close() })
	backend.Commit()

	client := NewClientWithBackend("simulated", backend.Client())
	t.Cleanup(client.Close)

	balance, err := client.Balance(ctx, addr.Hex(), swap.Token{Symbol: "ETH", Native: true, Decimals: 18})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(funded) != 0 {
		t.Fatalf("unexpected balance %s", balance)
	}

	allowance, err := client.Allowance(ctx, addr.Hex(), spender, swap.Token{Symbol: "ETH", Native: true})
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Cmp(abi.MaxUint256) != 0 {
		t.Fatalf("native allowance should be unlimited, got %s", allowance)
	}

	block, err := client.LatestBlock(ctx)
	if err != nil {
		t.Fatalf("latest block: %v", err)
	}
	if block.Number == 0 {
		t.Fatal("expected block number to advance after commit")
	}
	if block.GasPrice == nil || block.GasPrice.Sign() <= 0 {
		t.Fatalf("expected positive gas price, got %v", block.GasPrice)
	}
	if block.Timestamp.IsZero() {
		t.Fatal("expected block timestamp")
	}

	id, err := client.ChainID(ctx)
	if err != nil || id.Sign() <= 0 {
		t.Fatalf("chain id: %v %v", id, err)
	}
}

func TestERC20BalanceAndAllowance(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl)
	client := NewClientWithBackend("mock", backend)

	balanceOut, err := erc20.Methods["balanceOf"].Outputs.Pack(big.NewInt(500_000_000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	allowanceOut, err := erc20.Methods["allowance"].Outputs.Pack(big.NewInt(1_000_000_000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	token := common.HexToAddress(usdc.Address)
	backend.EXPECT().
		CallContract(gomock.Any(), gomock.Any(), gomock.Nil()).
		DoAndReturn(func(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
			if msg.To == nil || *msg.To != token {
				t.Errorf("unexpected contract %v", msg.To)
			}
			switch {
			case bytes.HasPrefix(msg.Data, erc20.Methods["balanceOf"].ID):
				return balanceOut, nil
			case bytes.HasPrefix(msg.Data, erc20.Methods["allowance"].ID):
				return allowanceOut, nil
			}
			t.Errorf("unexpected selector %x", msg.Data[:4])
			return nil, errors.New("unexpected call")
		}).
		Times(2)

	balance, err := client.Balance(context.Background(), owner, usdc)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 500_000_000 {
		t.Fatalf("unexpected balance %s", balance)
	}

	allowance, err := client.Allowance(context.Background(), owner, spender, usdc)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Int64() != 1_000_000_000 {
		t.Fatalf("unexpected allowance %s", allowance)
	}
}

func TestERC20Decimals(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl)
	client := NewClientWithBackend("mock", backend)

	out, err := erc20.Methods["decimals"].Outputs.Pack(uint8(6))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	backend.EXPECT().
		CallContract(gomock.Any(), gomock.Any(), gomock.Nil()).
		DoAndReturn(func(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
			if !bytes.HasPrefix(msg.Data, erc20.Methods["decimals"].ID) {
				t.Errorf("unexpected selector %x", msg.Data[:4])
			}
			return out, nil
		})

	decimals, err := client.Decimals(context.Background(), usdc.Address)
	if err != nil {
		t.Fatalf("decimals: %v", err)
	}
	if decimals != 6 {
		t.Fatalf("unexpected decimals %d", decimals)
	}

	if _, err := client.Decimals(context.Background(), "not-an-address"); err == nil {
		t.Fatal("expected invalid address error")
	}
}

func TestBalanceRPCFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl)
	backend.EXPECT().
		CallContract(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection reset"))

	client := NewClientWithBackend("mock", backend)
	if _, err := client.Balance(context.Background(), owner, usdc); err == nil {
		t.Fatal("expected error when rpc fails")
	}
}

func TestInvalidAddressRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewClientWithBackend("mock", mock.NewMockBackend(ctrl))

	if _, err := client.Balance(context.Background(), "not-an-address", usdc); err == nil {
		t.Fatal("expected invalid owner error")
	}
	if _, err := client.Allowance(context.Background(), owner, "0x12", usdc); err == nil {
		t.Fatal("expected invalid spender error")
	}
}

func TestLatestBlockFromHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := mock.NewMockBackend(ctrl)
	backend.EXPECT().HeaderByNumber(gomock.Any(), gomock.Nil()).
		Return(&coretypes.Header{Number: big.NewInt(19_000_000), Time: 1_700_000_000}, nil)
	backend.EXPECT().SuggestGasPrice(gomock.Any()).Return(big.NewInt(20_000_000_000), nil)

	block, err := NewClientWithBackend("mock", backend).LatestBlock(context.Background())
	if err != nil {
		t.Fatalf("latest block: %v", err)
	}
	if block.Number != 19_000_000 || !block.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected block %+v", block)
	}
	if block.GasPrice.Int64() != 20_000_000_000 {
		t.Fatalf("unexpected gas price %s", block.GasPrice)
	}
}
