package kcommon

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/xinkaiwang/faasmgr/libs/xklib/klogging"
)

type safeRandom struct {
	mu         sync.Mutex
	seededRand *rand.Rand
}

var safeRand safeRandom

type OpGetRand func(*rand.Rand)

// GetRandom runs op with the process wide crypto-seeded generator, under lock.
func GetRandom(ctx context.Context, op OpGetRand) {
	safeRand.mu.Lock()
	defer safeRand.mu.Unlock()
	if safeRand.seededRand == nil {
		buf := make([]byte, 8)
		seed := time.Now().UnixNano()
		if _, err := crypto_rand.Read(buf); err != nil {
			klogging.Warning(ctx).WithError(err).Log("CryptoRandSeedFailed", "fallback to time seed")
		} else {
			seed = int64(binary.BigEndian.Uint64(buf))
		}
		safeRand.seededRand = rand.New(rand.NewSource(seed))
		klogging.Verbose(ctx).With("seed", strconv.FormatInt(seed, 16)).Log("RandSeeded", "")
	}
	op(safeRand.seededRand)
}

// RandomInt returns a pseudo-random number in [0,max)
func RandomInt(ctx context.Context, max int) (ret int) {
	GetRandom(ctx, func(r *rand.Rand) {
		ret = r.Intn(max)
	})
	return
}

// RoundDurationToMs rounds randomly so that sub-ms latencies still add up correctly in sums.
func RoundDurationToMs(ctx context.Context, duration time.Duration) int64 {
	return (duration.Microseconds() + int64(RandomInt(ctx, 1000))) / 1000
}
