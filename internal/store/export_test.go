package store

import (
	"github.com/sugawarayuuta/sonnet"

	"github.com/roach88/knhk/internal/ir"
)

func forgedPayload(rec *ir.CycleRecord) (string, error) {
	b, err := sonnet.Marshal(rec)
	return string(b), err
}
