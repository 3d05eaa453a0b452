// Package client drives a deployed counter program: it funds a payer, provisions
// the payer's counter account and sends count instructions.
package client

import (
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/near/borsh-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/counter-program/pkg/counter"
	"github.com/code-payments/counter-program/pkg/solana"
	"github.com/code-payments/counter-program/pkg/solana/system"
)

var (
	ErrProgramNotFound      = errors.New("program account not found")
	ErrProgramNotExecutable = errors.New("program account is not executable")
	ErrCounterNotFound      = errors.New("counter account not found")
)

// Ledger is the subset of a Solana node the client needs. Both the RPC client and
// the in-process programtest bank satisfy it.
type Ledger interface {
	GetAccountInfo(ed25519.PublicKey, solana.Commitment) (solana.AccountInfo, error)
	GetBalance(ed25519.PublicKey) (uint64, error)
	GetMinimumBalanceForRentExemption(size uint64) (uint64, error)
	GetLatestBlockhash() (solana.Blockhash, error)
	GetSignatureStatus(solana.Signature, solana.Commitment) (*solana.SignatureStatus, error)
	RequestAirdrop(ed25519.PublicKey, uint64, solana.Commitment) (solana.Signature, error)
	SubmitTransaction(solana.Transaction, solana.Commitment) (solana.Signature, error)
}

type versioned interface {
	GetVersion() (string, error)
}

// Client counts on a single counter account, derived from the payer and a seed.
type Client struct {
	log       *logrus.Entry
	conf      *conf
	ledger    Ledger
	programID ed25519.PublicKey
	payer     ed25519.PrivateKey
	seed      string
	counter   ed25519.PublicKey
}

// New returns a client for programID. When payer is nil, it is read from the
// configured keypair file, or generated if none is configured.
func New(ctx context.Context, ledger Ledger, programID ed25519.PublicKey, payer ed25519.PrivateKey, configProvider ConfigProvider) (*Client, error) {
	c := &Client{
		log:       logrus.StandardLogger().WithField("type", "counter/client"),
		conf:      configProvider(),
		ledger:    ledger,
		programID: programID,
		payer:     payer,
	}

	if c.payer == nil {
		var err error
		if c.payer, err = c.loadPayer(ctx); err != nil {
			return nil, err
		}
	}

	c.seed = c.conf.seed.Get(ctx)

	var err error
	c.counter, err = solana.CreateWithSeed(c.Payer(), c.seed, programID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to derive counter address from seed %q", c.seed)
	}

	return c, nil
}

// NewFromConfig returns a client talking to the configured RPC node.
func NewFromConfig(ctx context.Context, programID ed25519.PublicKey, configProvider ConfigProvider) (*Client, error) {
	cfg := configProvider()
	ledger := solana.New(cfg.rpcURL.Get(ctx))

	return New(ctx, ledger, programID, nil, func() *conf { return cfg })
}

func (c *Client) loadPayer(ctx context.Context) (ed25519.PrivateKey, error) {
	log := c.log.WithField("method", "loadPayer")

	if path := c.conf.keypairPath.Get(ctx); len(path) > 0 {
		payer, err := LoadKeypair(path)
		if err == nil {
			return payer, nil
		}
		log.WithError(err).Warn("failed to load payer keypair, generating a random payer")
	}

	_, payer, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate payer")
	}
	return payer, nil
}

// Payer returns the account paying for every transaction.
func (c *Client) Payer() ed25519.PublicKey {
	return c.payer.Public().(ed25519.PublicKey)
}

// Counter returns the counter account address.
func (c *Client) Counter() ed25519.PublicKey {
	return c.counter
}

// EstablishConnection checks that the node is reachable, returning its version
// when it reports one.
func (c *Client) EstablishConnection(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	v, ok := c.ledger.(versioned)
	if !ok {
		return "", nil
	}

	version, err := v.GetVersion()
	if err != nil {
		return "", errors.Wrap(err, "failed to get node version")
	}

	c.log.WithFields(logrus.Fields{
		"method":  "EstablishConnection",
		"version": version,
	}).Info("connected to node")
	return version, nil
}

// EstablishPayer makes sure the payer can fund the counter account and a budget
// of transaction fees, requesting an airdrop for the shortfall. It returns the
// payer's balance.
func (c *Client) EstablishPayer(ctx context.Context) (uint64, error) {
	log := c.log.WithFields(logrus.Fields{
		"method": "EstablishPayer",
		"payer":  base58.Encode(c.Payer()),
	})

	rent, err := c.ledger.GetMinimumBalanceForRentExemption(counter.StateSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rent exemption")
	}
	required := rent + c.conf.lamportsPerSignature.Get(ctx)*c.conf.feeBudgetSignatures.Get(ctx)

	balance, err := c.ledger.GetBalance(c.Payer())
	if err != nil {
		return 0, errors.Wrap(err, "failed to get payer balance")
	}

	if balance < required {
		log.WithField("lamports", required-balance).Info("requesting airdrop")

		sig, err := c.ledger.RequestAirdrop(c.Payer(), required-balance, solana.CommitmentConfirmed)
		if err != nil {
			return 0, errors.Wrap(err, "failed to request airdrop")
		}
		if err := c.confirm(sig); err != nil {
			return 0, errors.Wrap(err, "airdrop failed")
		}

		if balance, err = c.ledger.GetBalance(c.Payer()); err != nil {
			return 0, errors.Wrap(err, "failed to get payer balance")
		}
	}

	log.WithField("balance", balance).Info("using payer")
	return balance, nil
}

// CheckProgram verifies the program is deployed, and creates the counter account
// if it does not exist yet.
func (c *Client) CheckProgram(ctx context.Context) error {
	log := c.log.WithFields(logrus.Fields{
		"method":  "CheckProgram",
		"program": base58.Encode(c.programID),
		"counter": base58.Encode(c.counter),
	})

	program, err := c.ledger.GetAccountInfo(c.programID, solana.CommitmentConfirmed)
	if err == solana.ErrNoAccountInfo {
		return ErrProgramNotFound
	} else if err != nil {
		return errors.Wrap(err, "failed to get program account")
	}
	if !program.Executable {
		return ErrProgramNotExecutable
	}

	account, err := c.ledger.GetAccountInfo(c.counter, solana.CommitmentConfirmed)
	if err == nil {
		return counter.CheckOwner(account.Owner, c.programID)
	} else if err != solana.ErrNoAccountInfo {
		return errors.Wrap(err, "failed to get counter account")
	}

	rent, err := c.ledger.GetMinimumBalanceForRentExemption(counter.StateSize)
	if err != nil {
		return errors.Wrap(err, "failed to get rent exemption")
	}

	log.Info("creating counter account")
	_, err = c.submit(ctx, system.CreateAccountWithSeed(
		c.Payer(),
		c.counter,
		c.Payer(),
		c.seed,
		rent,
		counter.StateSize,
		c.programID,
	))
	return err
}

// Count sends a single counter instruction for the counter account.
func (c *Client) Count(ctx context.Context) (solana.Signature, error) {
	c.log.WithFields(logrus.Fields{
		"method":  "Count",
		"counter": base58.Encode(c.counter),
	}).Debug("counting")

	return c.submit(ctx, solana.NewInstruction(
		c.programID,
		nil,
		solana.NewAccountMeta(c.counter, false),
	))
}

// Report returns the current state of the counter account.
func (c *Client) Report(ctx context.Context) (counter.CounterState, error) {
	var state counter.CounterState
	if err := ctx.Err(); err != nil {
		return state, err
	}

	account, err := c.ledger.GetAccountInfo(c.counter, solana.CommitmentConfirmed)
	if err == solana.ErrNoAccountInfo {
		return state, ErrCounterNotFound
	} else if err != nil {
		return state, errors.Wrap(err, "failed to get counter account")
	}

	if len(account.Data) < counter.StateSize {
		return state, counter.ErrInvalidEncoding
	}
	if err := borsh.Deserialize(&state, account.Data[:counter.StateSize]); err != nil {
		return state, errors.Wrap(err, "failed to decode counter account")
	}

	c.log.WithFields(logrus.Fields{
		"method":  "Report",
		"counter": base58.Encode(c.counter),
		"value":   state.Counter,
	}).Info("counter reported")
	return state, nil
}

// submit signs and sends instructions, waiting for confirmation. Rejected
// transactions are returned as *solana.TransactionError.
func (c *Client) submit(ctx context.Context, instructions ...solana.Instruction) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}

	blockhash, err := c.ledger.GetLatestBlockhash()
	if err != nil {
		return solana.Signature{}, errors.Wrap(err, "failed to get latest blockhash")
	}

	tx := solana.NewTransaction(c.Payer(), instructions...)
	tx.SetBlockhash(blockhash)
	if err := tx.Sign(c.payer); err != nil {
		return solana.Signature{}, errors.Wrap(err, "failed to sign transaction")
	}

	sig, err := c.ledger.SubmitTransaction(tx, solana.CommitmentConfirmed)
	if err != nil {
		return sig, err
	}

	return sig, c.confirm(sig)
}

func (c *Client) confirm(sig solana.Signature) error {
	status, err := c.ledger.GetSignatureStatus(sig, solana.CommitmentConfirmed)
	if err != nil {
		return errors.Wrapf(err, "failed to confirm %s", sig.ToBase58())
	}
	if status == nil {
		return errors.Errorf("transaction %s not confirmed", sig.ToBase58())
	}
	if status.ErrorResult != nil {
		return status.ErrorResult
	}
	return nil
}
