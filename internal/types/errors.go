package types

import "errors"

var (
	errEmptyTipset    = errors.New("tipset must contain at least one block")
	errMixedHeight    = errors.New("tipset blocks do not share a height")
	errMixedParents   = errors.New("tipset blocks do not share parents")
	errDuplicateMiner = errors.New("tipset contains two blocks from the same miner")
)
