package programtest

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/counter-program/pkg/solana"
	"github.com/code-payments/counter-program/pkg/solana/system"
	"github.com/code-payments/counter-program/pkg/testutil"
)

const (
	opWrite byte = iota
	opGrow
	opAssign
	opMove
	opMint
	opCustom
	opFail
)

// rogue does whatever its instruction data asks, so the runtime rules can be
// exercised one at a time.
func rogue(ctx *solana.InvokeContext, _ ed25519.PublicKey, accounts []*solana.AccountInfo, data []byte) error {
	ctx.Logf("rogue op %d", data[0])

	switch data[0] {
	case opWrite:
		accounts[0].Data[0] = data[1]
	case opGrow:
		accounts[0].Data = append(accounts[0].Data, 0)
	case opAssign:
		accounts[0].Owner = accounts[1].Key
	case opMove:
		accounts[0].Lamports--
		accounts[1].Lamports++
	case opMint:
		accounts[0].Lamports++
	case opCustom:
		return solana.CustomError(7)
	case opFail:
		return errors.New("boom")
	}
	return nil
}

type testEnv struct {
	ctx       context.Context
	bank      *Bank
	payer     ed25519.PrivateKey
	programID ed25519.PublicKey
	owned     ed25519.PublicKey
	foreign   ed25519.PublicKey
}

func setup(t *testing.T) *testEnv {
	keys := testutil.GenerateSolanaKeys(t, 4)
	env := &testEnv{
		ctx:       context.Background(),
		programID: keys[0],
		owned:     keys[1],
		foreign:   keys[2],
	}

	pt := New("rogue", env.programID, rogue).WithConfig(WithTestOverrides(&TestOverrides{}))
	pt.AddAccount(env.owned, solana.AccountInfo{
		Owner:    env.programID,
		Lamports: 1_000_000,
		Data:     []byte{1, 0, 0, 0},
	})
	pt.AddAccount(env.foreign, solana.AccountInfo{
		Owner:    keys[3],
		Lamports: 1_000_000,
		Data:     []byte{1, 0, 0, 0},
	})

	var err error
	env.bank, env.payer, _, err = pt.Start(env.ctx)
	require.NoError(t, err)
	return env
}

func (e *testEnv) ix(data []byte, accounts ...solana.AccountMeta) solana.Instruction {
	return solana.NewInstruction(e.programID, data, accounts...)
}

func (e *testEnv) tx(t *testing.T, instructions ...solana.Instruction) solana.Transaction {
	blockhash, err := e.bank.GetLatestBlockhash()
	require.NoError(t, err)

	tx := solana.NewTransaction(testutil.PublicKey(e.payer), instructions...)
	tx.SetBlockhash(blockhash)
	require.NoError(t, tx.Sign(e.payer))
	return tx
}

func (e *testEnv) account(t *testing.T, key ed25519.PublicKey) solana.AccountInfo {
	info, err := e.bank.GetAccountInfo(key, solana.CommitmentFinalized)
	require.NoError(t, err)
	return info
}

func (e *testEnv) balance(t *testing.T, key ed25519.PublicKey) uint64 {
	balance, err := e.bank.GetBalance(key)
	require.NoError(t, err)
	return balance
}

func TestBank_Start(t *testing.T) {
	env := setup(t)

	assert.EqualValues(t, defaultPayerLamports, env.balance(t, testutil.PublicKey(env.payer)))

	program := env.account(t, env.programID)
	assert.True(t, program.Executable)
	assert.EqualValues(t, LoaderKey, program.Owner)

	owned := env.account(t, env.owned)
	assert.EqualValues(t, env.programID, owned.Owner)
	assert.Equal(t, []byte{1, 0, 0, 0}, owned.Data)
	assert.Nil(t, owned.Key)
}

func TestBank_AccountInfoIsolation(t *testing.T) {
	env := setup(t)

	info := env.account(t, env.owned)
	info.Data[0] = 9
	info.Lamports = 0

	assert.Equal(t, []byte{1, 0, 0, 0}, env.account(t, env.owned).Data)
	assert.EqualValues(t, 1_000_000, env.balance(t, env.owned))

	_, err := env.bank.GetAccountInfo(testutil.GenerateSolanaKeys(t, 1)[0], solana.CommitmentFinalized)
	assert.Equal(t, solana.ErrNoAccountInfo, err)

	balance, err := env.bank.GetBalance(testutil.GenerateSolanaKeys(t, 1)[0])
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestBank_Transfer(t *testing.T) {
	env := setup(t)
	payer := testutil.PublicKey(env.payer)
	recipient := testutil.GenerateSolanaKeys(t, 1)[0]

	tx := env.tx(t, system.Transfer(payer, recipient, 1234))
	require.NoError(t, env.bank.ProcessTransaction(env.ctx, tx))

	assert.EqualValues(t, 1234, env.balance(t, recipient))
	assert.EqualValues(t, defaultPayerLamports-1234-defaultLamportsPerSignature, env.balance(t, payer))

	info := env.account(t, recipient)
	assert.True(t, system.IsProgram(info.Owner))
	assert.Empty(t, info.Data)

	status, err := env.bank.GetSignatureStatus(tx.Signatures[0], solana.CommitmentFinalized)
	require.NoError(t, err)
	assert.Nil(t, status.ErrorResult)
	assert.True(t, status.Finalized())
	assert.True(t, status.Confirmed())
	assert.NotZero(t, status.Slot)
}

func TestBank_TransferInsufficientFunds(t *testing.T) {
	env := setup(t)
	payer := testutil.PublicKey(env.payer)

	tx := env.tx(t, system.Transfer(payer, env.foreign, defaultPayerLamports))
	err := env.bank.ProcessTransaction(env.ctx, tx)
	testutil.AssertInstructionError(t, err, 0, solana.InstructionErrorCustom)
	assert.Equal(t, system.ErrResultWithNegativeLamports, *err.(*solana.TransactionError).InstructionError().CustomError())

	// The fee is still charged.
	assert.EqualValues(t, defaultPayerLamports-defaultLamportsPerSignature, env.balance(t, payer))
	assert.EqualValues(t, 1_000_000, env.balance(t, env.foreign))
}

func TestBank_CreateAccountWithSeed(t *testing.T) {
	env := setup(t)
	payer := testutil.PublicKey(env.payer)

	address, err := solana.CreateWithSeed(payer, "counter", env.programID)
	require.NoError(t, err)

	rent, err := env.bank.GetMinimumBalanceForRentExemption(4)
	require.NoError(t, err)
	assert.EqualValues(t, 918720, rent)

	tx := env.tx(t, system.CreateAccountWithSeed(payer, address, payer, "counter", rent, 4, env.programID))
	require.NoError(t, env.bank.ProcessTransaction(env.ctx, tx))

	info := env.account(t, address)
	assert.EqualValues(t, env.programID, info.Owner)
	assert.Equal(t, make([]byte, 4), info.Data)
	assert.Equal(t, rent, info.Lamports)

	// Creating it again fails, since the address is in use.
	tx = env.tx(t, system.CreateAccountWithSeed(payer, address, payer, "counter", rent, 4, env.programID))
	err = env.bank.ProcessTransaction(env.ctx, tx)
	testutil.AssertInstructionError(t, err, 0, solana.InstructionErrorCustom)
	assert.Equal(t, system.ErrAccountAlreadyInUse, *err.(*solana.TransactionError).InstructionError().CustomError())

	// A seed that doesn't derive the address is rejected.
	tx = env.tx(t, system.CreateAccountWithSeed(payer, address, payer, "other", rent, 4, env.programID))
	err = env.bank.ProcessTransaction(env.ctx, tx)
	testutil.AssertInstructionError(t, err, 0, solana.InstructionErrorCustom)
	assert.Equal(t, system.ErrAddressWithSeedMismatch, *err.(*solana.TransactionError).InstructionError().CustomError())
}

func TestBank_CreateAccount(t *testing.T) {
	env := setup(t)
	payer := testutil.PublicKey(env.payer)
	account := testutil.GenerateSolanaKeypair(t)

	ix := system.CreateAccount(payer, testutil.PublicKey(account), env.programID, 1000, 8)

	// The new account must sign.
	tx := env.tx(t, ix)
	err := env.bank.ProcessTransaction(env.ctx, tx)
	testutil.AssertTransactionError(t, err, solana.TransactionErrorSignatureFailure)

	tx = env.tx(t, ix)
	require.NoError(t, tx.Sign(account))
	require.NoError(t, env.bank.ProcessTransaction(env.ctx, tx))

	info := env.account(t, testutil.PublicKey(account))
	assert.EqualValues(t, env.programID, info.Owner)
	assert.Len(t, info.Data, 8)
	assert.EqualValues(t, 1000, info.Lamports)
	assert.EqualValues(t, defaultPayerLamports-1000-2*defaultLamportsPerSignature, env.balance(t, payer))
}

func TestBank_OwnedWrite(t *testing.T) {
	env := setup(t)

	tx := env.tx(t, env.ix([]byte{opWrite, 7}, solana.NewAccountMeta(env.owned, false)))
	require.NoError(t, env.bank.ProcessTransaction(env.ctx, tx))

	assert.Equal(t, []byte{7, 0, 0, 0}, env.account(t, env.owned).Data)

	logs, err := env.bank.TransactionLogs(tx.Signatures[0])
	require.NoError(t, err)
	programID := base58.Encode(env.programID)
	assert.Equal(t, []string{
		fmt.Sprintf("Program %s invoke [1]", programID),
		"Program log: rogue op 0",
		fmt.Sprintf("Program %s success", programID),
	}, logs)
}

func TestBank_RuntimeRules(t *testing.T) {
	for _, tc := range []struct {
		name     string
		data     []byte
		accounts func(env *testEnv) []solana.AccountMeta
		expected solana.InstructionErrorKey
	}{
		{
			name: "external data",
			data: []byte{opWrite, 7},
			accounts: func(env *testEnv) []solana.AccountMeta {
				return []solana.AccountMeta{solana.NewAccountMeta(env.foreign, false)}
			},
			expected: solana.InstructionErrorExternalAccountDataModified,
		},
		{
			name: "readonly data",
			data: []byte{opWrite, 7},
			accounts: func(env *testEnv) []solana.AccountMeta {
				return []solana.AccountMeta{solana.NewReadonlyAccountMeta(env.owned, false)}
			},
			expected: solana.InstructionErrorReadonlyDataModified,
		},
		{
			name: "size change",
			data: []byte{opGrow},
			accounts: func(env *testEnv) []solana.AccountMeta {
				return []solana.AccountMeta{solana.NewAccountMeta(env.owned, false)}
			},
			expected: solana.InstructionErrorAccountDataSizeChanged,
		},
		{
			name: "owner change",
			data: []byte{opAssign},
			accounts: func(env *testEnv) []solana.AccountMeta {
				return []solana.AccountMeta{
					solana.NewAccountMeta(env.owned, false),
					solana.NewReadonlyAccountMeta(env.foreign, false),
				}
			},
			expected: solana.InstructionErrorModifiedProgramID,
		},
		{
			name: "external spend",
			data: []byte{opMove},
			accounts: func(env *testEnv) []solana.AccountMeta {
				return []solana.AccountMeta{
					solana.NewAccountMeta(env.foreign, false),
					solana.NewAccountMeta(env.owned, false),
				}
			},
			expected: solana.InstructionErrorExternalAccountLamportSpend,
		},
		{
			name: "readonly lamports",
			data: []byte{opMove},
			accounts: func(env *testEnv) []solana.AccountMeta {
				return []solana.AccountMeta{
					solana.NewAccountMeta(env.owned, false),
					solana.NewReadonlyAccountMeta(env.foreign, false),
				}
			},
			expected: solana.InstructionErrorReadonlyLamportChange,
		},
		{
			name: "unbalanced",
			data: []byte{opMint},
			accounts: func(env *testEnv) []solana.AccountMeta {
				return []solana.AccountMeta{solana.NewAccountMeta(env.owned, false)}
			},
			expected: solana.InstructionErrorUnbalancedInstruction,
		},
		{
			name: "custom",
			data: []byte{opCustom},
			accounts: func(env *testEnv) []solana.AccountMeta {
				return []solana.AccountMeta{solana.NewAccountMeta(env.owned, false)}
			},
			expected: solana.InstructionErrorCustom,
		},
		{
			name: "generic",
			data: []byte{opFail},
			accounts: func(env *testEnv) []solana.AccountMeta {
				return []solana.AccountMeta{solana.NewAccountMeta(env.owned, false)}
			},
			expected: solana.InstructionErrorGenericError,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setup(t)

			tx := env.tx(t, env.ix(tc.data, tc.accounts(env)...))
			err := env.bank.ProcessTransaction(env.ctx, tx)
			testutil.AssertInstructionError(t, err, 0, tc.expected)

			assert.Equal(t, []byte{1, 0, 0, 0}, env.account(t, env.owned).Data)
			assert.Equal(t, env.programID, env.account(t, env.owned).Owner)
			assert.EqualValues(t, 1_000_000, env.balance(t, env.owned))
			assert.EqualValues(t, 1_000_000, env.balance(t, env.foreign))
			assert.EqualValues(t, defaultPayerLamports-defaultLamportsPerSignature, env.balance(t, testutil.PublicKey(env.payer)))

			status, err := env.bank.GetSignatureStatus(tx.Signatures[0], solana.CommitmentFinalized)
			require.NoError(t, err)
			require.NotNil(t, status.ErrorResult)
			assert.Equal(t, tc.expected, status.ErrorResult.InstructionError().ErrorKey())
		})
	}
}

func TestBank_AllOrNothing(t *testing.T) {
	env := setup(t)

	tx := env.tx(t,
		env.ix([]byte{opWrite, 7}, solana.NewAccountMeta(env.owned, false)),
		env.ix([]byte{opFail}, solana.NewAccountMeta(env.owned, false)),
	)
	err := env.bank.ProcessTransaction(env.ctx, tx)
	testutil.AssertInstructionError(t, err, 1, solana.InstructionErrorGenericError)
	assert.Equal(t, []byte{1, 0, 0, 0}, env.account(t, env.owned).Data)

	logs, err := env.bank.TransactionLogs(tx.Signatures[0])
	require.NoError(t, err)
	programID := base58.Encode(env.programID)
	assert.Equal(t, []string{
		fmt.Sprintf("Program %s invoke [1]", programID),
		"Program log: rogue op 0",
		fmt.Sprintf("Program %s success", programID),
		fmt.Sprintf("Program %s invoke [1]", programID),
		"Program log: rogue op 6",
		fmt.Sprintf("Program %s failed: boom", programID),
	}, logs)
}

func TestBank_AlreadyProcessed(t *testing.T) {
	env := setup(t)

	tx := env.tx(t, env.ix([]byte{opWrite, 7}, solana.NewAccountMeta(env.owned, false)))
	require.NoError(t, env.bank.ProcessTransaction(env.ctx, tx))

	err := env.bank.ProcessTransaction(env.ctx, tx)
	testutil.AssertTransactionError(t, err, solana.TransactionErrorAlreadyProcessed)

	// The duplicate is not charged.
	assert.EqualValues(t, defaultPayerLamports-defaultLamportsPerSignature, env.balance(t, testutil.PublicKey(env.payer)))

	// Failed transactions are also recorded.
	tx = env.tx(t, env.ix([]byte{opFail}, solana.NewAccountMeta(env.owned, false)))
	testutil.AssertInstructionError(t, env.bank.ProcessTransaction(env.ctx, tx), 0, solana.InstructionErrorGenericError)
	testutil.AssertTransactionError(t, env.bank.ProcessTransaction(env.ctx, tx), solana.TransactionErrorAlreadyProcessed)
}

func TestBank_TransactionRejections(t *testing.T) {
	env := setup(t)
	payer := testutil.PublicKey(env.payer)

	t.Run("unsigned", func(t *testing.T) {
		blockhash, err := env.bank.GetLatestBlockhash()
		require.NoError(t, err)

		tx := solana.NewTransaction(payer, system.Transfer(payer, env.foreign, 1))
		tx.SetBlockhash(blockhash)
		testutil.AssertTransactionError(t, env.bank.ProcessTransaction(env.ctx, tx), solana.TransactionErrorSignatureFailure)

		_, err = env.bank.GetSignatureStatus(tx.Signatures[0], solana.CommitmentFinalized)
		assert.Equal(t, solana.ErrSignatureNotFound, err)
	})

	t.Run("unknown blockhash", func(t *testing.T) {
		tx := solana.NewTransaction(payer, system.Transfer(payer, env.foreign, 1))
		tx.SetBlockhash(solana.Blockhash{1, 2, 3})
		require.NoError(t, tx.Sign(env.payer))
		testutil.AssertTransactionError(t, env.bank.ProcessTransaction(env.ctx, tx), solana.TransactionErrorBlockhashNotFound)
	})

	t.Run("expired blockhash", func(t *testing.T) {
		blockhash, err := env.bank.GetLatestBlockhash()
		require.NoError(t, err)
		for i := 0; i < maxRecentBlockhashes; i++ {
			_, err := env.bank.GetLatestBlockhash()
			require.NoError(t, err)
		}

		tx := solana.NewTransaction(payer, system.Transfer(payer, env.foreign, 1))
		tx.SetBlockhash(blockhash)
		require.NoError(t, tx.Sign(env.payer))
		testutil.AssertTransactionError(t, env.bank.ProcessTransaction(env.ctx, tx), solana.TransactionErrorBlockhashNotFound)
	})

	t.Run("missing program", func(t *testing.T) {
		missing := testutil.GenerateSolanaKeys(t, 1)[0]
		tx := env.tx(t, solana.NewInstruction(missing, nil, solana.NewAccountMeta(env.owned, false)))
		testutil.AssertTransactionError(t, env.bank.ProcessTransaction(env.ctx, tx), solana.TransactionErrorProgramAccountNotFound)
	})

	t.Run("not executable", func(t *testing.T) {
		tx := env.tx(t, solana.NewInstruction(env.foreign, nil, solana.NewAccountMeta(env.owned, false)))
		testutil.AssertTransactionError(t, env.bank.ProcessTransaction(env.ctx, tx), solana.TransactionErrorInvalidProgramForExec)
	})

	t.Run("unfunded payer", func(t *testing.T) {
		unfunded := testutil.GenerateSolanaKeypair(t)
		blockhash, err := env.bank.GetLatestBlockhash()
		require.NoError(t, err)

		tx := solana.NewTransaction(testutil.PublicKey(unfunded), system.Transfer(testutil.PublicKey(unfunded), env.foreign, 1))
		tx.SetBlockhash(blockhash)
		require.NoError(t, tx.Sign(unfunded))
		testutil.AssertTransactionError(t, env.bank.ProcessTransaction(env.ctx, tx), solana.TransactionErrorAccountNotFound)
	})

	t.Run("insufficient fee", func(t *testing.T) {
		poor := testutil.GenerateSolanaKeypair(t)
		_, err := env.bank.RequestAirdrop(testutil.PublicKey(poor), defaultLamportsPerSignature-1, solana.CommitmentFinalized)
		require.NoError(t, err)

		blockhash, err := env.bank.GetLatestBlockhash()
		require.NoError(t, err)

		tx := solana.NewTransaction(testutil.PublicKey(poor), system.Transfer(testutil.PublicKey(poor), env.foreign, 1))
		tx.SetBlockhash(blockhash)
		require.NoError(t, tx.Sign(poor))
		testutil.AssertTransactionError(t, env.bank.ProcessTransaction(env.ctx, tx), solana.TransactionErrorInsufficientFundsForFee)
		assert.EqualValues(t, defaultLamportsPerSignature-1, env.balance(t, testutil.PublicKey(poor)))

		// Not being charged, the transaction can be retried once funded.
		_, err = env.bank.RequestAirdrop(testutil.PublicKey(poor), solana.LamportsPerSol, solana.CommitmentFinalized)
		require.NoError(t, err)
		require.NoError(t, env.bank.ProcessTransaction(env.ctx, tx))
	})
}

func TestBank_Airdrop(t *testing.T) {
	env := setup(t)
	recipient := testutil.GenerateSolanaKeys(t, 1)[0]

	for i := 0; i < 2; i++ {
		sig, err := env.bank.RequestAirdrop(recipient, solana.LamportsPerSol, solana.CommitmentFinalized)
		require.NoError(t, err)

		status, err := env.bank.GetSignatureStatus(sig, solana.CommitmentFinalized)
		require.NoError(t, err)
		assert.Nil(t, status.ErrorResult)
	}

	assert.EqualValues(t, 2*solana.LamportsPerSol, env.balance(t, recipient))
}

func TestBank_ConcurrentTransfers(t *testing.T) {
	env := setup(t)
	payer := testutil.PublicKey(env.payer)
	recipients := testutil.GenerateSolanaKeys(t, 32)

	var wg sync.WaitGroup
	errs := make([]error, len(recipients))
	for i, recipient := range recipients {
		wg.Add(1)
		go func(i int, recipient ed25519.PublicKey) {
			defer wg.Done()

			blockhash, err := env.bank.GetLatestBlockhash()
			if err != nil {
				errs[i] = err
				return
			}

			tx := solana.NewTransaction(payer, system.Transfer(payer, recipient, 100))
			tx.SetBlockhash(blockhash)
			if err := tx.Sign(env.payer); err != nil {
				errs[i] = err
				return
			}

			_, errs[i] = env.bank.SubmitTransaction(tx, solana.CommitmentFinalized)
		}(i, recipient)
	}
	wg.Wait()

	for i, recipient := range recipients {
		require.NoError(t, errs[i])
		assert.EqualValues(t, 100, env.balance(t, recipient))
	}
	n := uint64(len(recipients))
	assert.EqualValues(t, defaultPayerLamports-n*(100+defaultLamportsPerSignature), env.balance(t, payer))
}

func TestBank_AirdropRateLimit(t *testing.T) {
	programID := testutil.GenerateSolanaKeys(t, 1)[0]
	pt := New("rogue", programID, rogue).WithConfig(WithTestOverrides(&TestOverrides{AirdropsPerMinute: 2}))

	bank, _, _, err := pt.Start(context.Background())
	require.NoError(t, err)

	keys := testutil.GenerateSolanaKeys(t, 2)
	for i := 0; i < 2; i++ {
		_, err := bank.RequestAirdrop(keys[0], 1, solana.CommitmentFinalized)
		require.NoError(t, err)
	}

	_, err = bank.RequestAirdrop(keys[0], 1, solana.CommitmentFinalized)
	assert.Equal(t, ErrAirdropRateLimited, err)

	_, err = bank.RequestAirdrop(keys[1], 1, solana.CommitmentFinalized)
	assert.NoError(t, err)

	balance, err := bank.GetBalance(keys[0])
	require.NoError(t, err)
	assert.EqualValues(t, 2, balance)
}
