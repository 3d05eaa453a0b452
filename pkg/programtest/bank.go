package programtest

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	x_rate "golang.org/x/time/rate"

	"github.com/code-payments/counter-program/pkg/metrics"
	"github.com/code-payments/counter-program/pkg/rate"
	"github.com/code-payments/counter-program/pkg/solana"
	"github.com/code-payments/counter-program/pkg/solana/system"
	sync_util "github.com/code-payments/counter-program/pkg/sync"
)

const (
	// maxRecentBlockhashes matches the validator's MAX_RECENT_BLOCKHASHES window.
	maxRecentBlockhashes = 150

	// Rent exemption parameters, taken from the default Rent sysvar.
	rentLamportsPerByteYear    = 3480
	rentExemptionYears         = 2
	rentAccountStorageOverhead = 128

	metricsStructName = "programtest.bank"
)

// ErrAirdropRateLimited is returned when a recipient requests airdrops too often.
var ErrAirdropRateLimited = errors.New("airdrop rate limited")

type transactionStatus struct {
	slot uint64
	err  *solana.TransactionError
	logs []string
	done bool
}

// Bank is an in-process ledger that executes transactions against registered
// programs. It implements solana.Client, so code written against an RPC node can
// run against it unchanged.
//
// Transactions touching disjoint accounts run concurrently. Transactions sharing
// a writable account are serialized.
type Bank struct {
	log    *logrus.Entry
	ctx    context.Context
	conf   *conf
	faucet ed25519.PrivateKey

	locks   *sync_util.StripedLock
	airdrop rate.Limiter

	stateMu     sync.RWMutex
	accounts    map[string]*solana.AccountInfo
	programs    map[string]program
	slot        uint64
	blockhashes []solana.Blockhash
	recent      map[solana.Blockhash]struct{}
	statuses    map[solana.Signature]*transactionStatus
}

func newBank(ctx context.Context, conf *conf, faucet ed25519.PrivateKey) *Bank {
	genesis := sha256.Sum256(faucet.Public().(ed25519.PublicKey))

	var airdrop rate.Limiter = &rate.NoLimiter{}
	if perMinute := conf.airdropsPerMinute.Get(ctx); perMinute > 0 {
		airdrop = rate.NewLocalRateLimiter(x_rate.Limit(float64(perMinute)/60), int(perMinute))
	}

	return &Bank{
		log:         logrus.StandardLogger().WithField("type", "programtest/bank"),
		ctx:         ctx,
		conf:        conf,
		faucet:      faucet,
		locks:       sync_util.NewStripedLock(uint(conf.lockStripes.Get(ctx))),
		airdrop:     airdrop,
		accounts:    make(map[string]*solana.AccountInfo),
		programs:    make(map[string]program),
		blockhashes: []solana.Blockhash{genesis},
		recent:      map[solana.Blockhash]struct{}{genesis: {}},
		statuses:    make(map[solana.Signature]*transactionStatus),
	}
}

func (b *Bank) fund(key ed25519.PublicKey, lamports uint64) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	account, ok := b.accounts[string(key)]
	if !ok {
		account = &solana.AccountInfo{
			Key:   append(ed25519.PublicKey(nil), key...),
			Owner: append(ed25519.PublicKey(nil), system.ProgramKey[:]...),
		}
		b.accounts[string(key)] = account
	}
	account.Lamports += lamports
}

// ProcessTransaction executes tx. Account changes are committed only if every
// instruction succeeds; the fee is charged either way once the transaction has
// been loaded.
//
// Failures are returned as *solana.TransactionError.
func (b *Bank) ProcessTransaction(ctx context.Context, tx solana.Transaction) error {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "ProcessTransaction")
	defer tracer.End()

	start := time.Now()
	txErr := b.processTransaction(ctx, tx)
	metrics.RecordDuration(ctx, "ProgramTest_ProcessTransactionDuration", time.Since(start))

	if txErr != nil {
		tracer.OnError(txErr)
		metrics.RecordCount(ctx, "ProgramTest_TransactionFailed", 1)
		return txErr
	}

	metrics.RecordCount(ctx, "ProgramTest_TransactionSucceeded", 1)
	return nil
}

func (b *Bank) processTransaction(ctx context.Context, tx solana.Transaction) *solana.TransactionError {
	log := b.log.WithField("method", "ProcessTransaction")

	if txErr := sanitize(tx); txErr != nil {
		log.WithError(txErr).Debug("transaction failed sanitization")
		return txErr
	}

	sig := tx.Signatures[0]
	log = log.WithField("signature", base58.Encode(sig[:]))

	if err := tx.Verify(); err != nil {
		log.WithError(err).Debug("transaction failed signature verification")
		return solana.NewTransactionError(solana.TransactionErrorSignatureFailure)
	}

	if !b.isRecentBlockhash(tx.Message.RecentBlockhash) {
		return solana.NewTransactionError(solana.TransactionErrorBlockhashNotFound)
	}

	if !b.claim(sig) {
		return solana.NewTransactionError(solana.TransactionErrorAlreadyProcessed)
	}

	release := b.reserve(tx.Message)
	defer release()

	working, programs, txErr := b.load(tx.Message)
	if txErr != nil {
		b.unclaim(sig)
		return txErr
	}

	fee := b.conf.lamportsPerSignature.Get(ctx) * uint64(len(tx.Signatures))
	if working[0].Lamports < fee {
		b.unclaim(sig)
		return solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee)
	}
	working[0].Lamports -= fee
	payer := working[0].Clone()

	logs, txErr := b.execute(tx.Message, working, programs)
	if txErr != nil {
		b.commit(tx.Message, map[int]*solana.AccountInfo{0: payer})
		log.WithError(txErr).Debug("transaction failed")
		metrics.RecordEvent(ctx, "ProgramTestTransactionFailed", map[string]interface{}{
			"signature": base58.Encode(sig[:]),
			"error":     txErr.Error(),
		})
	} else {
		updates := make(map[int]*solana.AccountInfo, len(working))
		for i, account := range working {
			if tx.Message.IsWritable(i) {
				updates[i] = account
			}
		}
		b.commit(tx.Message, updates)
	}

	b.finish(sig, txErr, logs)
	return txErr
}

func sanitize(tx solana.Transaction) *solana.TransactionError {
	m := tx.Message
	fail := solana.NewTransactionError(solana.TransactionErrorSanitizeFailure)

	if len(tx.Signatures) == 0 || m.Header.NumSignatures == 0 {
		return solana.NewTransactionError(solana.TransactionErrorMissingSignatureForFee)
	}
	// The fee payer must be writable.
	if m.Header.NumReadonlySigned >= m.Header.NumSignatures {
		return fail
	}
	if int(m.Header.NumSignatures)+int(m.Header.NumReadOnly) > len(m.Accounts) {
		return fail
	}

	seen := make(map[string]struct{}, len(m.Accounts))
	for _, key := range m.Accounts {
		if len(key) != ed25519.PublicKeySize {
			return fail
		}
		if _, ok := seen[string(key)]; ok {
			return solana.NewTransactionError(solana.TransactionErrorAccountLoadedTwice)
		}
		seen[string(key)] = struct{}{}
	}

	for _, ix := range m.Instructions {
		// The fee payer cannot be invoked.
		if ix.ProgramIndex == 0 || int(ix.ProgramIndex) >= len(m.Accounts) {
			return fail
		}
		for _, index := range ix.Accounts {
			if int(index) >= len(m.Accounts) {
				return fail
			}
		}
	}

	return nil
}

func (b *Bank) isRecentBlockhash(blockhash solana.Blockhash) bool {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	_, ok := b.recent[blockhash]
	return ok
}

// claim marks sig as in flight, returning false if it has been seen before.
func (b *Bank) claim(sig solana.Signature) bool {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	if _, ok := b.statuses[sig]; ok {
		return false
	}
	b.statuses[sig] = &transactionStatus{}
	return true
}

// unclaim releases a signature for a transaction that was never executed.
func (b *Bank) unclaim(sig solana.Signature) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	delete(b.statuses, sig)
}

func (b *Bank) finish(sig solana.Signature, txErr *solana.TransactionError, logs []string) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	b.slot++
	b.statuses[sig] = &transactionStatus{
		slot: b.slot,
		err:  txErr,
		logs: logs,
		done: true,
	}
}

func (b *Bank) reserve(m solana.Message) func() {
	var reads, writes [][]byte
	for i, key := range m.Accounts {
		if m.IsWritable(i) {
			writes = append(writes, key)
		} else {
			reads = append(reads, key)
		}
	}

	return b.locks.Reserve(reads, writes)
}

// load snapshots every account referenced by m and resolves the invoked programs.
// Accounts that do not exist are handed out empty and owned by the system program.
func (b *Bank) load(m solana.Message) ([]*solana.AccountInfo, []program, *solana.TransactionError) {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	if _, ok := b.accounts[string(m.Accounts[0])]; !ok {
		return nil, nil, solana.NewTransactionError(solana.TransactionErrorAccountNotFound)
	}

	working := make([]*solana.AccountInfo, len(m.Accounts))
	for i, key := range m.Accounts {
		if existing, ok := b.accounts[string(key)]; ok {
			working[i] = existing.Clone()
		} else {
			working[i] = &solana.AccountInfo{
				Key:   append(ed25519.PublicKey(nil), key...),
				Owner: append(ed25519.PublicKey(nil), system.ProgramKey[:]...),
			}
		}
		working[i].IsSigner = m.IsSigner(i)
		working[i].IsWritable = m.IsWritable(i)
	}

	programs := make([]program, len(m.Instructions))
	for i, ix := range m.Instructions {
		key := m.Accounts[ix.ProgramIndex]
		if system.IsProgram(key) {
			programs[i] = program{name: "system", id: key}
			continue
		}

		if _, ok := b.accounts[string(key)]; !ok {
			return nil, nil, solana.NewTransactionError(solana.TransactionErrorProgramAccountNotFound)
		}

		p, ok := b.programs[string(key)]
		if !ok || !working[ix.ProgramIndex].Executable {
			return nil, nil, solana.NewTransactionError(solana.TransactionErrorInvalidProgramForExec)
		}
		programs[i] = p
	}

	return working, programs, nil
}

// commit stores updates, keyed by message account index. Accounts left without
// lamports are removed.
func (b *Bank) commit(m solana.Message, updates map[int]*solana.AccountInfo) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	for index, account := range updates {
		key := string(m.Accounts[index])
		if account.Lamports == 0 {
			delete(b.accounts, key)
			continue
		}

		committed := account.Clone()
		committed.IsSigner = false
		committed.IsWritable = false
		b.accounts[key] = committed
	}
}

// TransactionLogs returns the log messages recorded for a processed transaction.
func (b *Bank) TransactionLogs(sig solana.Signature) ([]string, error) {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	status, ok := b.statuses[sig]
	if !ok || !status.done {
		return nil, solana.ErrSignatureNotFound
	}

	return append([]string(nil), status.logs...), nil
}

// GetAccountInfo implements solana.Client.GetAccountInfo.
func (b *Bank) GetAccountInfo(account ed25519.PublicKey, _ solana.Commitment) (solana.AccountInfo, error) {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	existing, ok := b.accounts[string(account)]
	if !ok {
		return solana.AccountInfo{}, solana.ErrNoAccountInfo
	}

	info := existing.Clone()
	info.Key = nil
	return *info, nil
}

// GetBalance implements solana.Client.GetBalance.
func (b *Bank) GetBalance(account ed25519.PublicKey) (uint64, error) {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	if existing, ok := b.accounts[string(account)]; ok {
		return existing.Lamports, nil
	}
	return 0, nil
}

// GetMinimumBalanceForRentExemption implements solana.Client.GetMinimumBalanceForRentExemption.
func (b *Bank) GetMinimumBalanceForRentExemption(size uint64) (uint64, error) {
	return (rentAccountStorageOverhead + size) * rentLamportsPerByteYear * rentExemptionYears, nil
}

// GetLatestBlockhash implements solana.Client.GetLatestBlockhash. Each call
// produces a new blockhash, so that otherwise identical transactions can be
// told apart.
func (b *Bank) GetLatestBlockhash() (solana.Blockhash, error) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()

	var slot [8]byte
	binary.LittleEndian.PutUint64(slot[:], uint64(len(b.blockhashes))+b.slot)

	h := sha256.New()
	h.Write(b.blockhashes[len(b.blockhashes)-1][:])
	h.Write(slot[:])

	var next solana.Blockhash
	copy(next[:], h.Sum(nil))

	b.blockhashes = append(b.blockhashes, next)
	b.recent[next] = struct{}{}
	if len(b.blockhashes) > maxRecentBlockhashes {
		delete(b.recent, b.blockhashes[0])
		b.blockhashes = b.blockhashes[1:]
	}

	return next, nil
}

// GetSignatureStatus implements solana.Client.GetSignatureStatus. Processed
// transactions are reported as finalized.
func (b *Bank) GetSignatureStatus(sig solana.Signature, _ solana.Commitment) (*solana.SignatureStatus, error) {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()

	status, ok := b.statuses[sig]
	if !ok || !status.done {
		return nil, solana.ErrSignatureNotFound
	}

	return &solana.SignatureStatus{
		Slot:               status.slot,
		ErrorResult:        status.err,
		ConfirmationStatus: "finalized",
	}, nil
}

// RequestAirdrop implements solana.Client.RequestAirdrop by transferring from the
// bank's faucet.
func (b *Bank) RequestAirdrop(account ed25519.PublicKey, lamports uint64, _ solana.Commitment) (solana.Signature, error) {
	if !b.airdrop.Allow(string(account)) {
		return solana.Signature{}, ErrAirdropRateLimited
	}

	faucet := b.faucet.Public().(ed25519.PublicKey)

	blockhash, err := b.GetLatestBlockhash()
	if err != nil {
		return solana.Signature{}, err
	}

	tx := solana.NewTransaction(faucet, system.Transfer(faucet, account, lamports))
	tx.SetBlockhash(blockhash)
	if err := tx.Sign(b.faucet); err != nil {
		return solana.Signature{}, errors.Wrap(err, "failed to sign airdrop")
	}

	return tx.Signatures[0], b.ProcessTransaction(b.ctx, tx)
}

// SubmitTransaction implements solana.Client.SubmitTransaction.
func (b *Bank) SubmitTransaction(tx solana.Transaction, _ solana.Commitment) (solana.Signature, error) {
	var sig solana.Signature
	if len(tx.Signatures) > 0 {
		sig = tx.Signatures[0]
	}

	return sig, b.ProcessTransaction(b.ctx, tx)
}
