package executor

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// immutablesComponents mirrors swap.Immutables' on-chain tuple shape
// wherever it appears as a call argument (§6 EscrowFactory/EscrowSrc/
// EscrowDst methods).
const immutablesComponents = `{"name":"immutables","type":"tuple","components":[
	{"name":"orderHash","type":"bytes32"},
	{"name":"hashlock","type":"bytes32"},
	{"name":"maker","type":"address"},
	{"name":"taker","type":"address"},
	{"name":"token","type":"address"},
	{"name":"amount","type":"uint256"},
	{"name":"safetyDeposit","type":"uint256"},
	{"name":"timelocks","type":"uint256"}
]}`

const factoryABIJSON = `[
	{"type":"function","name":"createDstEscrow","stateMutability":"payable","inputs":[` +
	immutablesComponents + `,{"name":"srcCancellationTimestamp","type":"uint256"}],"outputs":[]}
]`

// escrowABIJSON covers the escrow methods that take the full immutables
// tuple. withdraw(secret, immutables) and its legacy sibling
// withdraw(secret) are true Solidity overloads — same name, a selector
// that differs only because the argument list differs — so the legacy
// form is parsed into its own abi.ABI (escrowLegacyABIJSON) below rather
// than given a fabricated name: go-ethereum's abi.ABI stores methods by
// name and de-duplicates collisions by suffixing them (withdraw0,
// withdraw1, ...), which would leave Pack("withdraw", ...) pointed at
// whichever overload happened to parse first.
const escrowABIJSON = `[
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"secret","type":"bytes32"},` +
	immutablesComponents + `],"outputs":[]},
	{"type":"function","name":"cancel","stateMutability":"nonpayable","inputs":[` +
	immutablesComponents + `],"outputs":[]},
	{"type":"function","name":"publicWithdraw","stateMutability":"nonpayable","inputs":[{"name":"secret","type":"bytes32"},` +
	immutablesComponents + `],"outputs":[]},
	{"type":"function","name":"publicCancel","stateMutability":"nonpayable","inputs":[` +
	immutablesComponents + `],"outputs":[]}
]`

// escrowLegacyABIJSON holds the older single-argument withdraw(secret)
// signature (§9 "the withdraw signature variants"), kept in a separate
// abi.ABI so Pack("withdraw", secret) resolves unambiguously.
const escrowLegacyABIJSON = `[
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"secret","type":"bytes32"}],"outputs":[]}
]`

const erc20ApproveABIJSON = `[
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var factoryABI = mustParseABI(factoryABIJSON)
var escrowABI = mustParseABI(escrowABIJSON)
var escrowLegacyABI = mustParseABI(escrowLegacyABIJSON)
var erc20ApproveABI = mustParseABI(erc20ApproveABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("executor: parse abi: " + err.Error())
	}
	return parsed
}
