// Package bpredict implements the direct-mapped 2-bit saturating-counter
// branch predictor consulted in BrPredict mode.
package bpredict

// counter states, MSB is the predicted direction (taken when >= weaklyTaken).
const (
	stronglyNotTaken uint8 = 0
	weaklyNotTaken   uint8 = 1
	weaklyTaken      uint8 = 2
	stronglyTaken    uint8 = 3
)

// Predictor is a direct-mapped array of 2-bit saturating counters indexed
// by pc mod len(table). Every counter starts weakly-not-taken.
type Predictor struct {
	table []uint8
}

// New builds a predictor with the given table size. entries == 0 disables
// prediction; callers must not call Predict on a disabled predictor.
func New(entries uint32) *Predictor {
	p := &Predictor{table: make([]uint8, entries)}
	for i := range p.table {
		p.table[i] = weaklyNotTaken
	}
	return p
}

// Enabled reports whether this predictor has a non-empty table.
func (p *Predictor) Enabled() bool {
	return len(p.table) > 0
}

// Predict returns the counter's current prediction for pc (true = taken),
// then updates the counter toward hint: saturating-increment when
// hint is taken, saturating-decrement otherwise.
func (p *Predictor) Predict(pc uint64, hint bool) bool {
	idx := pc % uint64(len(p.table))
	counter := p.table[idx]
	predicted := counter >= weaklyTaken

	if hint {
		if counter < stronglyTaken {
			counter++
		}
	} else {
		if counter > stronglyNotTaken {
			counter--
		}
	}
	p.table[idx] = counter

	return predicted
}
