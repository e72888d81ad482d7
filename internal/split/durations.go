package split

import (
	"errors"
	"fmt"
)

// Remainder is the target duration meaning "every clip left over".
const Remainder = -1

// Durations are validated split targets in seconds. Unset targets are zero.
type Durations struct {
	Train float64
	Val   float64
	Test  float64
}

// HasRemainder reports whether one split takes the leftover clips.
func (d Durations) HasRemainder() bool {
	return d.Train == Remainder || d.Val == Remainder || d.Test == Remainder
}

func (d Durations) byName() []target {
	return []target{
		{name: nameTrain, dur: d.Train},
		{name: nameVal, dur: d.Val},
		{name: nameTest, dur: d.Test},
	}
}

// ValidateDurations checks the requested targets against the total duration
// of the dataset and converts unset targets to zero.
func ValidateDurations(train, val, test *float64, total float64) (Durations, error) {
	if val != nil && *val > 0 && train == nil && test == nil {
		return Durations{}, errors.New("cannot specify only val_dur, unclear how to split dataset into training and test sets")
	}

	requested := map[string]*float64{nameTrain: train, nameVal: val, nameTest: test}
	unset := 0
	remainders := 0
	for _, name := range []string{nameTrain, nameVal, nameTest} {
		dur := requested[name]
		if dur == nil || *dur == Remainder {
			unset++
		}
		if dur == nil {
			continue
		}
		if *dur == Remainder {
			remainders++
			continue
		}
		if *dur < 0 {
			return Durations{}, fmt.Errorf("%s_dur is %v: durations must be a non-negative number of seconds or -1 (the rest of the dataset)", name, *dur)
		}
	}
	if unset == 3 {
		return Durations{}, errors.New("train_dur, val_dur and test_dur were all unset or -1; specify at least train_dur or test_dur")
	}
	if remainders > 1 {
		return Durations{}, errors.New("cannot set more than one split duration to -1, unclear how to calculate durations of splits")
	}

	out := Durations{Train: valueOrZero(train), Val: valueOrZero(val), Test: valueOrZero(test)}
	var sum float64
	for _, t := range out.byName() {
		if t.dur != Remainder {
			sum += t.dur
		}
	}
	if sum > total {
		if out.HasRemainder() {
			return Durations{}, fmt.Errorf("durations of the splits not set to -1 sum to %.3f s, more than the dataset total of %.3f s", sum, total)
		}
		return Durations{}, fmt.Errorf("split durations sum to %.3f s, more than the dataset total of %.3f s", sum, total)
	}
	return out, nil
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
