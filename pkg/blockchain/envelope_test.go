package blockchain_test

import (
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/web3ekko/ekko-bridge/pkg/blockchain"
)

type stubEncoder struct {
	input []byte
	err   error
	calls []string
}

func (s *stubEncoder) EncodeCall(method string, args []string) ([]byte, error) {
	s.calls = append(s.calls, method+"("+strings.Join(args, ",")+")")
	return s.input, s.err
}

func TestCallEnvelope_Encode(t *testing.T) {
	caller := accountFromHex(t, testCallerHex)
	contract := accountFromHex(t, testContractHex)

	env := &blockchain.CallEnvelope{
		Origin:    caller,
		Dest:      contract,
		Value:     new(big.Int),
		InputData: []byte{0xde, 0xad, 0xbe, 0xef},
	}
	got, err := env.Encode()
	require.NoError(t, err)

	want := testCallerHex + testContractHex +
		strings.Repeat("00", 16) + // value
		"00" + // gas limit: None
		"00" + // storage deposit limit: None
		"10" + "deadbeef"
	assert.Equal(t, want, hex.EncodeToString(got))
}

func TestCallEnvelope_EncodeLimits(t *testing.T) {
	env := &blockchain.CallEnvelope{
		GasLimit:            &blockchain.Weight{RefTime: 1, ProofSize: 64},
		StorageDepositLimit: big.NewInt(1000),
	}
	got, err := env.Encode()
	require.NoError(t, err)

	want := strings.Repeat("00", 64) +
		strings.Repeat("00", 16) +
		"01" + "04" + "0101" + // Some(ref_time compact 1, proof_size compact 64)
		"01" + "e803" + strings.Repeat("00", 14) +
		"00"
	assert.Equal(t, want, hex.EncodeToString(got))
}

func TestCallBuilder_Build(t *testing.T) {
	enc := &stubEncoder{input: []byte{0x01, 0x02}}
	id := blockchain.Identity{
		Caller:   accountFromHex(t, testCallerHex),
		Contract: accountFromHex(t, testContractHex),
	}
	b := blockchain.NewCallBuilder(enc, "get_product_status", id)
	assert.Equal(t, "get_product_status", b.Method())

	first, err := b.Build([]string{"A1", "P9"})
	require.NoError(t, err)
	assert.Equal(t, id.Caller, first.Origin)
	assert.Equal(t, id.Contract, first.Dest)
	assert.Zero(t, first.Value.Sign())
	assert.Nil(t, first.GasLimit)
	assert.Nil(t, first.StorageDepositLimit)
	assert.Equal(t, []byte{0x01, 0x02}, first.InputData)

	second, err := b.Build([]string{"A1", "P9"})
	require.NoError(t, err)

	a, err := first.Encode()
	require.NoError(t, err)
	c, err := second.Encode()
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, []string{"get_product_status(A1,P9)", "get_product_status(A1,P9)"}, enc.calls)
}

func TestCallBuilder_EncoderError(t *testing.T) {
	schemaErr := errors.New("no such message")
	b := blockchain.NewCallBuilder(&stubEncoder{err: schemaErr}, "missing", blockchain.Identity{})

	_, err := b.Build(nil)
	assert.ErrorIs(t, err, schemaErr)
}
