package driver

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"

	"lukechampine.com/blake3"

	"ledgerbench/crypto"
	"ledgerbench/validator"
)

// seedValidators builds a deterministic validator population. Small scales
// get real secp256k1 keys; large ones get blake3-derived key material so
// keygen cost never dominates the sweep.
func seedValidators(scale int, seed int64, keygenThreshold int) ([]validator.Record, error) {
	rng := rand.New(rand.NewSource(seed))
	out := make([]validator.Record, scale)
	for i := range out {
		addr := crypto.DeriveAddress(crypto.ValidatorPrefix, uint64(seed)+uint64(i))
		var pub []byte
		if scale <= keygenThreshold {
			key, err := crypto.GeneratePrivateKey()
			if err != nil {
				return nil, fmt.Errorf("driver: generate validator key: %w", err)
			}
			pub = key.PubKey().Bytes()
		} else {
			sum := blake3.Sum256(addr.Bytes())
			pub = sum[:]
		}
		power := int64(rng.Intn(1_000_000) + 1)
		out[i] = validator.Record{
			Address:         addr.Raw(),
			PubKey:          pub,
			Moniker:         fmt.Sprintf("val-%d", i),
			Power:           power,
			Commission:      uint32(rng.Intn(2000)),
			Status:          validator.Bonded,
			Tokens:          new(big.Int).Mul(big.NewInt(power), big.NewInt(1_000_000)),
			DelegatorShares: big.NewInt(power),
		}
	}
	return out, nil
}

func (r *Runner) validatorSweep(ctx context.Context, scale int) error {
	opts := r.opts.Validator
	reg := validator.NewRegistry()
	records, err := seedValidators(scale, r.opts.Seed, opts.KeygenThreshold)
	if err != nil {
		return err
	}

	if err := r.measure(ctx, "validator", "add", scale, scale, func() error {
		for i := range records {
			if err := reg.Add(records[i]); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	lookup := rand.New(rand.NewSource(r.opts.Seed + 1))
	if err := r.measure(ctx, "validator", "get", scale, scale, func() error {
		for i := 0; i < scale; i++ {
			addr := records[lookup.Intn(len(records))].Address
			if _, ok := reg.Get(addr); !ok {
				return fmt.Errorf("driver: validator %x missing from registry", addr)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// Churn keeps jail/unjail/slash traffic running while the ranked reads
	// are timed, so TopByPower is measured under write contention.
	stop := make(chan struct{})
	var churn sync.WaitGroup
	for w := 0; w < opts.ChurnWorkers; w++ {
		churn.Add(1)
		go func(seed int64) {
			defer churn.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
				}
				addr := records[rng.Intn(len(records))].Address
				switch rng.Intn(3) {
				case 0:
					_ = reg.Jail(addr)
				case 1:
					_ = reg.Unjail(addr)
				default:
					_ = reg.Slash(addr, opts.SlashBps)
				}
			}
		}(r.opts.Seed + 100 + int64(w))
	}

	err = r.measure(ctx, "validator", "top_by_power", scale, opts.TopQueries, func() error {
		for i := 0; i < opts.TopQueries; i++ {
			if top := reg.TopByPower(opts.TopN); len(top) == 0 {
				return errors.New("driver: ranked read returned nothing")
			}
			if reg.TotalVotingPower() < 0 {
				return errors.New("driver: negative voting power total")
			}
		}
		return nil
	})
	close(stop)
	churn.Wait()
	return err
}
