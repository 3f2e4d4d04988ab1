package decoder_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3ekko/ekko-bridge/pkg/blockchain"
	"github.com/web3ekko/ekko-bridge/pkg/contract"
	"github.com/web3ekko/ekko-bridge/pkg/decoder"
)

func loadSchema(t *testing.T) *contract.Schema {
	t.Helper()
	s, err := contract.Load(context.Background(), contract.FileSource{Path: "../contract/testdata/rantai_suplai.json"})
	require.NoError(t, err)
	return s
}

func execBytes(t *testing.T, res *blockchain.ExecResult) []byte {
	t.Helper()
	if res.StorageDeposit.Amount == nil {
		res.StorageDeposit.Amount = new(big.Int)
	}
	raw, err := res.Encode()
	require.NoError(t, err)
	return raw
}

func TestDecoder_Success(t *testing.T) {
	s := loadSchema(t)
	want := &contract.Variant{Name: "Ok", Fields: []contract.Field{{Value: big.NewInt(3)}}}
	data, err := s.EncodeReturn("get_product_status", want)
	require.NoError(t, err)

	raw := execBytes(t, &blockchain.ExecResult{
		GasConsumed: blockchain.Weight{RefTime: 10, ProofSize: 20},
		Return:      &blockchain.ExecReturnValue{Data: data},
	})

	res, err := decoder.NewDecoder(s, "get_product_status").Decode(raw)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "get_product_status", res.Method)
	assert.Equal(t, "Ok(3)", res.Display)
	assert.Equal(t, contract.Format(want), contract.Format(res.Value))
	assert.False(t, res.Reverted)
	assert.Equal(t, uint64(10), res.Exec.GasConsumed.RefTime)
}

func TestDecoder_Reverted(t *testing.T) {
	s := loadSchema(t)
	raw := execBytes(t, &blockchain.ExecResult{
		Return: &blockchain.ExecReturnValue{Flags: blockchain.FlagRevert, Data: []byte{0x01, 0x01}},
	})

	res, err := decoder.NewDecoder(s, "get_product_status").Decode(raw)
	require.NoError(t, err)
	assert.True(t, res.Reverted)
	assert.Equal(t, "Err(CouldNotReadInput)", res.Display)
}

func TestDecoder_DispatchFailure(t *testing.T) {
	s := loadSchema(t)
	raw := execBytes(t, &blockchain.ExecResult{
		DispatchError: &blockchain.DispatchError{
			Kind:   "Module",
			Module: &blockchain.ModuleError{Index: 70, Error: [4]byte{0x0b}},
		},
	})

	res, err := decoder.NewDecoder(s, "get_product_status").Decode(raw)
	require.NoError(t, err)
	assert.False(t, res.Succeeded())
	assert.Empty(t, res.Display)
	assert.Nil(t, res.Value)
	require.NotNil(t, res.DispatchError)
	assert.Equal(t, "Module { index: 70, error: 0x0b000000 }", res.DispatchError.String())
}

func TestDecoder_Malformed(t *testing.T) {
	s := loadSchema(t)
	d := decoder.NewDecoder(s, "get_product_status")

	_, err := d.Decode([]byte{0xff})
	assert.ErrorIs(t, err, blockchain.ErrDecode)

	// well-formed envelope whose return data does not match the message
	raw := execBytes(t, &blockchain.ExecResult{
		Return: &blockchain.ExecReturnValue{Data: []byte{0x00, 0x01}},
	})
	_, err = d.Decode(raw)
	assert.ErrorIs(t, err, blockchain.ErrDecode)
	assert.ErrorIs(t, err, contract.ErrCodec)
}
