package protocol

import "fmt"

// Codec is one reversible stage of a layer chain.
//
// Encode and Decode never mutate in. The returned consumed count tells the
// caller how many leading bytes of in were fully accounted for:
//
//	consumed == 0, len(out) == 0  not enough data yet, keep accumulating
//	consumed  > 0, len(out) == 0  bytes were junk or a corrupt frame, drop them
//	consumed  > 0, len(out)  > 0  one unit was produced
//
// A non-nil error aborts the current operation only.
type Codec interface {
	Name() string
	Encode(in []byte) (out []byte, consumed int, err error)
	Decode(in []byte) (out []byte, consumed int, err error)
}

// Sizer is implemented by codecs that can bound their output. EncodedLen
// reports the worst-case encoded size of an n-byte input, or an error when
// the codec would refuse n bytes.
type Sizer interface {
	EncodedLen(n int) (int, error)
}

// Outcome classifies a transform result.
type Outcome int

const (
	OutcomeNeedMore Outcome = iota
	OutcomeDropped
	OutcomeProduced
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "dropped"
	case OutcomeProduced:
		return "produced"
	default:
		return "need_more"
	}
}

// Classify maps a transform result onto its Outcome.
func Classify(out []byte, consumed int) Outcome {
	switch {
	case consumed == 0:
		return OutcomeNeedMore
	case len(out) == 0:
		return OutcomeDropped
	default:
		return OutcomeProduced
	}
}

// CheckConsumed rejects consumed counts a codec could not legally report.
func CheckConsumed(name string, consumed, inLen int) error {
	if consumed < 0 || consumed > inLen {
		return fmt.Errorf("%w: layer=%s consumed=%d input=%d", ErrShortInput, name, consumed, inLen)
	}
	return nil
}
