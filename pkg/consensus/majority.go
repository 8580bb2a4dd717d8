package consensus

// Threshold is the strict count a value must exceed to be a majority.
func Threshold(n, f int) float64 {
	return float64(n-f) / 2
}

// count tallies defined values only.
func count(votes []Value) (zeros, ones int) {
	for _, v := range votes {
		switch v {
		case Zero:
			zeros++
		case One:
			ones++
		}
	}
	return zeros, ones
}

// Majority1 reduces phase-1 votes. Without a strict majority it falls back to One.
func Majority1(votes []Value, n, f int) Value {
	zeros, ones := count(votes)
	t := Threshold(n, f)
	if float64(zeros) > t {
		return Zero
	}
	if float64(ones) > t {
		return One
	}
	return One
}

// Decision is the result of a phase-2 reduction.
type Decision struct {
	Value   Value
	Decided bool
	// Random is set when the value came from the coin.
	Random bool
}

// Decide reduces phase-2 votes. When 2F >= N no majority is trusted and the
// coin picks the value, leaving the node undecided.
func Decide(votes []Value, n, f int, proposed Value, coin func() Value) Decision {
	if 2*f >= n {
		return Decision{Value: coin(), Random: true}
	}
	zeros, ones := count(votes)
	t := Threshold(n, f)
	switch {
	case float64(zeros) > t:
		return Decision{Value: Zero, Decided: true}
	case float64(ones) > t:
		return Decision{Value: One, Decided: true}
	default:
		return Decision{Value: proposed, Decided: true}
	}
}
