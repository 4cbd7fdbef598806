package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	receipts    map[common.Hash]*types.Receipt
	err         error
	headerCalls int
}

func (f *fakeSource) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeSource) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	f.headerCalls++
	return &types.Header{Number: number, Time: 1_700_000_000 + number.Uint64()}, nil
}

func TestConfirmStatuses(t *testing.T) {
	ok := common.HexToHash("0x01")
	reverted := common.HexToHash("0x02")
	src := &fakeSource{receipts: map[common.Hash]*types.Receipt{
		ok:       {Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)},
		reverted: {Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(10)},
	}}
	c := newClient(src)
	ctx := context.Background()

	conf, err := c.Confirm(ctx, ok.Hex())
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, conf.Status)
	require.Equal(t, uint64(10), conf.BlockNumber)
	require.Equal(t, int64(1_700_000_010), conf.BlockTime.Unix())

	conf, err = c.Confirm(ctx, reverted.Hex())
	require.NoError(t, err)
	require.Equal(t, StatusFailed, conf.Status)
	require.Equal(t, 1, src.headerCalls)

	conf, err = c.Confirm(ctx, common.HexToHash("0x03").Hex())
	require.NoError(t, err)
	require.Equal(t, StatusPending, conf.Status)
}

func TestConfirmRPCError(t *testing.T) {
	c := newClient(&fakeSource{err: errors.New("connection refused")})

	_, err := c.Confirm(context.Background(), "0x01")
	require.Error(t, err)
}
