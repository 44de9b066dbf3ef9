package executor

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devdotbo/bmn-evm-resolver-sub002/swap"
)

// WithdrawVersion selects which on-chain withdraw signature a factory's
// escrow clones expose (§9 open question, resolved by reading the
// factory once at startup rather than guessing per call).
type WithdrawVersion uint8

const (
	// WithdrawWithImmutables calls withdraw(secret, immutables), the
	// signature the rest of this package assumes by default.
	WithdrawWithImmutables WithdrawVersion = iota

	// WithdrawLegacy calls withdraw(secret) alone, for escrow
	// implementations that recover their immutables from storage rather
	// than require them as a call argument.
	WithdrawLegacy
)

// versionReader is the subset of chaingateway.Gateway a version probe
// needs.
type versionReader interface {
	ReadCall(ctx context.Context, contract common.Address, data []byte) ([]byte, error)
}

// versionABI exposes the optional VERSION()(uint8) view method some
// factories expose; absence of the method (a revert) means the legacy
// signature is in use.
const versionABIJSON = `[{"type":"function","name":"VERSION","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]`

var versionABI = mustParseABI(versionABIJSON)

// DetectWithdrawVersion reads factory once at startup to decide which
// withdraw signature its escrow clones implement. A revert (method not
// present) is treated as WithdrawLegacy rather than an error, matching
// older factory deployments that predate the immutables-carrying
// signature.
func DetectWithdrawVersion(ctx context.Context, client versionReader, factory common.Address) WithdrawVersion {
	data, err := versionABI.Pack("VERSION")
	if err != nil {
		return WithdrawWithImmutables
	}

	out, err := client.ReadCall(ctx, factory, data)
	if err != nil || len(out) == 0 {
		return WithdrawLegacy
	}

	results, err := versionABI.Unpack("VERSION", out)
	if err != nil || len(results) != 1 {
		return WithdrawLegacy
	}

	version, ok := results[0].(uint8)
	if !ok || version == 0 {
		return WithdrawLegacy
	}
	return WithdrawWithImmutables
}

// packWithdrawVersioned builds calldata for withdraw(secret[,
// immutables]) per version. Dispatch errors here (an unsupported version
// value) are hard errors: per §9 they are not retried, since retrying a
// miscoded call can never succeed.
func packWithdrawVersioned(version WithdrawVersion, secret swap.Secret, im swap.Immutables) ([]byte, error) {
	switch version {
	case WithdrawWithImmutables:
		return escrowABI.Pack("withdraw", [32]byte(secret), toImmutablesArg(im))
	case WithdrawLegacy:
		return escrowLegacyABI.Pack("withdraw", [32]byte(secret))
	default:
		return nil, fmt.Errorf("executor: unknown withdraw version %d", version)
	}
}
