// Package programtest runs Solana programs against an in-process bank, in the
// manner of solana_program_test.
//
// The bank provides what the on-chain runtime guarantees to programs: every
// account referenced by a transaction is reserved for that transaction, account
// writes become visible only if every instruction succeeds, and the runtime's
// ownership, read-only and size rules are enforced after each instruction.
package programtest

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/counter-program/pkg/solana"
)

// LoaderKey owns every program account registered with a ProgramTest.
var LoaderKey ed25519.PublicKey

func init() {
	var err error
	LoaderKey, err = base58.Decode("BPFLoaderUpgradeab1e11111111111111111111111")
	if err != nil {
		panic(err)
	}
}

type program struct {
	name       string
	id         ed25519.PublicKey
	entrypoint solana.Entrypoint
}

// ProgramTest collects programs and genesis accounts for a Bank.
type ProgramTest struct {
	log            *logrus.Entry
	configProvider ConfigProvider

	programs []program
	accounts map[string]*solana.AccountInfo
}

// New returns a ProgramTest running entrypoint as programID.
func New(name string, programID ed25519.PublicKey, entrypoint solana.Entrypoint) *ProgramTest {
	pt := &ProgramTest{
		log:            logrus.StandardLogger().WithField("type", "programtest"),
		configProvider: WithEnvConfigs(),
		accounts:       make(map[string]*solana.AccountInfo),
	}
	pt.AddProgram(name, programID, entrypoint)
	return pt
}

// WithConfig replaces the environment based configuration.
func (pt *ProgramTest) WithConfig(configProvider ConfigProvider) *ProgramTest {
	pt.configProvider = configProvider
	return pt
}

// AddProgram registers an additional program.
func (pt *ProgramTest) AddProgram(name string, programID ed25519.PublicKey, entrypoint solana.Entrypoint) {
	pt.programs = append(pt.programs, program{
		name:       name,
		id:         programID,
		entrypoint: entrypoint,
	})

	pt.AddAccount(programID, solana.AccountInfo{
		Owner:      LoaderKey,
		Lamports:   1,
		Executable: true,
	})
}

// AddAccount seeds the bank with account at key. It replaces any previous
// account for key.
func (pt *ProgramTest) AddAccount(key ed25519.PublicKey, account solana.AccountInfo) {
	account.Key = key
	account.IsSigner = false
	account.IsWritable = false
	pt.accounts[string(key)] = account.Clone()
}

// Start creates the bank, along with a funded payer and the first blockhash.
func (pt *ProgramTest) Start(ctx context.Context) (*Bank, ed25519.PrivateKey, solana.Blockhash, error) {
	conf := pt.configProvider()

	_, payer, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, solana.Blockhash{}, errors.Wrap(err, "failed to generate payer")
	}
	_, faucet, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, solana.Blockhash{}, errors.Wrap(err, "failed to generate faucet")
	}

	b := newBank(ctx, conf, faucet)
	for _, p := range pt.programs {
		b.programs[string(p.id)] = p
	}
	for _, account := range pt.accounts {
		b.accounts[string(account.Key)] = account.Clone()
	}

	b.fund(faucet.Public().(ed25519.PublicKey), conf.faucetLamports.Get(ctx))
	b.fund(payer.Public().(ed25519.PublicKey), conf.payerLamports.Get(ctx))

	blockhash, err := b.GetLatestBlockhash()
	if err != nil {
		return nil, nil, solana.Blockhash{}, err
	}

	pt.log.WithFields(logrus.Fields{
		"method":   "Start",
		"programs": len(pt.programs),
		"accounts": len(pt.accounts),
		"payer":    base58.Encode(payer.Public().(ed25519.PublicKey)),
	}).Debug("bank started")

	return b, payer, blockhash, nil
}
