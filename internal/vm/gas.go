package vm

import "github.com/pkg/errors"

// ErrOutOfGas is returned when a metered operation would exceed the
// message's gas_limit, per §4.6's OutOfGas exit behaviour.
var ErrOutOfGas = errors.New("vm: out of gas")

// Op identifies a billable runtime operation, generalizing the teacher's
// bytecode Opcode (core/vm_opcodes.go, core/virtual_machine.go's GasMeter)
// from "one cost per interpreter instruction" to "one cost per metered
// runtime capability" (IPLD reads/writes, crypto verification, sends),
// per §4.6/§5's gas-metered blockstore view requirement.
type Op int

const (
	OpOnChainByte Op = iota
	OpIPLDGet
	OpIPLDPut
	OpSend
	OpVerifySignature
	OpVerifyAggregateBLS
	OpVerifyProof
	OpHash
)

// PriceList is a version-dependent cost table, per §4.6's "every IPLD read,
// every storage write, every cryptographic verification... is metered with
// a version-dependent price list."
type PriceList map[Op]uint64

// DefaultPriceList is the price list charged at network version 0 onward
// until a future migration installs a different one.
var DefaultPriceList = PriceList{
	OpOnChainByte:         1,
	OpIPLDGet:             10,
	OpIPLDPut:             20,
	OpSend:                5,
	OpVerifySignature:     3000,
	OpVerifyAggregateBLS:  8000,
	OpVerifyProof:         50000,
	OpHash:                30,
}

// GasMeter tracks consumption against a message's gas_limit, mirroring the
// teacher's GasMeter (core/virtual_machine.go) shape (used/limit fields,
// Consume/Remaining methods) generalized to the runtime's Op-keyed price
// list instead of a fixed bytecode opcode table.
type GasMeter struct {
	prices PriceList
	used   uint64
	limit  uint64
}

func NewGasMeter(limit uint64, prices PriceList) *GasMeter {
	if prices == nil {
		prices = DefaultPriceList
	}
	return &GasMeter{prices: prices, limit: limit}
}

// Charge consumes a flat amount (e.g. the on-chain size baseline, §4.6
// step 2a), independent of the Op price table.
func (g *GasMeter) Charge(amount uint64) error {
	if g.used+amount > g.limit {
		g.used = g.limit
		return ErrOutOfGas
	}
	g.used += amount
	return nil
}

// Consume charges the priced cost of op, multiplied by n (e.g. n bytes for
// OpOnChainByte, or 1 for a single crypto verification).
func (g *GasMeter) Consume(op Op, n uint64) error {
	cost, ok := g.prices[op]
	if !ok {
		cost = g.prices[OpIPLDGet]
	}
	return g.Charge(cost * n)
}

func (g *GasMeter) Used() uint64      { return g.used }
func (g *GasMeter) Remaining() uint64 { return g.limit - g.used }
