// Package signals provides technical indicator calculations.
//
// Every function takes values in ascending date order and returns a slice of
// the same length. Positions without enough history hold NaN.
package signals

import (
	"math"
)

var nan = math.NaN()

func undefined(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = nan
	}
	return out
}

// SMA calculates the Simple Moving Average for the given period
func SMA(values []float64, period int) []float64 {
	out := undefined(len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	valid := 0
	for i, v := range values {
		if math.IsNaN(v) {
			sum, valid = 0, 0
			continue
		}
		sum += v
		valid++
		if valid > period {
			sum -= values[i-period]
			valid = period
		}
		if valid == period {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA calculates the Exponential Moving Average, seeded with the SMA of the
// first period defined values. Leading NaNs are skipped.
func EMA(values []float64, period int) []float64 {
	out := undefined(len(values))
	if period <= 0 {
		return out
	}
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	if len(values)-start < period {
		return out
	}

	multiplier := 2.0 / float64(period+1)
	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[start+period-1] = ema
	for i := start + period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}

// RSI calculates the Relative Strength Index with Wilder smoothing
func RSI(closes []float64, period int) []float64 {
	out := undefined(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // flat
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD calculates Moving Average Convergence Divergence.
// Returns the MACD line, signal line and histogram.
func MACD(closes []float64, fastPeriod, slowPeriod, signalPeriod int) ([]float64, []float64, []float64) {
	fast := EMA(closes, fastPeriod)
	slow := EMA(closes, slowPeriod)

	line := undefined(len(closes))
	for i := range closes {
		if !math.IsNaN(fast[i]) && !math.IsNaN(slow[i]) {
			line[i] = fast[i] - slow[i]
		}
	}
	signal := EMA(line, signalPeriod)
	hist := undefined(len(closes))
	for i := range closes {
		if !math.IsNaN(line[i]) && !math.IsNaN(signal[i]) {
			hist[i] = line[i] - signal[i]
		}
	}
	return line, signal, hist
}

// Bollinger calculates Bollinger Bands using the population standard
// deviation. percentB is 0.5 when the bands collapse.
func Bollinger(closes []float64, period int, width float64) (middle, upper, lower, percentB []float64) {
	middle = SMA(closes, period)
	upper = undefined(len(closes))
	lower = undefined(len(closes))
	percentB = undefined(len(closes))

	for i := range closes {
		if math.IsNaN(middle[i]) {
			continue
		}
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - middle[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = middle[i] + width*sd
		lower[i] = middle[i] - width*sd
		if upper[i] == lower[i] {
			percentB[i] = 0.5
		} else {
			percentB[i] = (closes[i] - lower[i]) / (upper[i] - lower[i])
		}
	}
	return middle, upper, lower, percentB
}

// rangeAt returns the highest high and lowest low over the period ending at i.
func rangeAt(highs, lows []float64, i, period int) (float64, float64) {
	hh, ll := math.Inf(-1), math.Inf(1)
	for j := i - period + 1; j <= i; j++ {
		hh = math.Max(hh, highs[j])
		ll = math.Min(ll, lows[j])
	}
	return hh, ll
}

// Stochastic calculates the %K and %D stochastic oscillator.
// %K is 50 when the high-low range is zero.
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) ([]float64, []float64) {
	k := undefined(len(closes))
	for i := kPeriod - 1; i < len(closes); i++ {
		hh, ll := rangeAt(highs, lows, i, kPeriod)
		if hh == ll {
			k[i] = 50
			continue
		}
		k[i] = 100 * (closes[i] - ll) / (hh - ll)
	}
	return k, SMA(k, dPeriod)
}

// WilliamsR calculates Williams %R, ranging -100..0.
// The value is -50 when the high-low range is zero.
func WilliamsR(highs, lows, closes []float64, period int) []float64 {
	out := undefined(len(closes))
	for i := period - 1; i < len(closes); i++ {
		hh, ll := rangeAt(highs, lows, i, period)
		if hh == ll {
			out[i] = -50
			continue
		}
		out[i] = -100 * (hh - closes[i]) / (hh - ll)
	}
	return out
}

// CCI calculates the Commodity Channel Index over the typical price.
// The value is 0 when the mean deviation is zero.
func CCI(highs, lows, closes []float64, period int) []float64 {
	tp := make([]float64, len(closes))
	for i := range closes {
		tp[i] = (highs[i] + lows[i] + closes[i]) / 3
	}
	mean := SMA(tp, period)
	out := undefined(len(closes))
	for i := range closes {
		if math.IsNaN(mean[i]) {
			continue
		}
		dev := 0.0
		for j := i - period + 1; j <= i; j++ {
			dev += math.Abs(tp[j] - mean[i])
		}
		dev /= float64(period)
		if dev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (tp[i] - mean[i]) / (0.015 * dev)
	}
	return out
}

// trueRange returns TR for each bar; index 0 has no previous close and is NaN.
func trueRange(highs, lows, closes []float64) []float64 {
	tr := undefined(len(closes))
	for i := 1; i < len(closes); i++ {
		tr1 := highs[i] - lows[i]
		tr2 := math.Abs(highs[i] - closes[i-1])
		tr3 := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(tr1, math.Max(tr2, tr3))
	}
	return tr
}

// ATR calculates Average True Range with Wilder smoothing
func ATR(highs, lows, closes []float64, period int) []float64 {
	tr := trueRange(highs, lows, closes)
	out := undefined(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	atr := sum / float64(period)
	out[period] = atr
	for i := period + 1; i < len(closes); i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
		out[i] = atr
	}
	return out
}

// ADX calculates the Average Directional Index with the +DI and -DI lines.
func ADX(highs, lows, closes []float64, period int) (adx, plusDI, minusDI []float64) {
	n := len(closes)
	adx, plusDI, minusDI = undefined(n), undefined(n), undefined(n)
	if period <= 0 || n <= period {
		return adx, plusDI, minusDI
	}

	tr := trueRange(highs, lows, closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	var trS, plusS, minusS float64
	for i := 1; i <= period; i++ {
		trS += tr[i]
		plusS += plusDM[i]
		minusS += minusDM[i]
	}

	dx := undefined(n)
	p := float64(period)
	for i := period; i < n; i++ {
		if i > period {
			trS = trS - trS/p + tr[i]
			plusS = plusS - plusS/p + plusDM[i]
			minusS = minusS - minusS/p + minusDM[i]
		}
		if trS == 0 {
			plusDI[i], minusDI[i] = 0, 0
		} else {
			plusDI[i] = 100 * plusS / trS
			minusDI[i] = 100 * minusS / trS
		}
		if sum := plusDI[i] + minusDI[i]; sum == 0 {
			dx[i] = 0
		} else {
			dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / sum
		}
	}

	first := 2*period - 1
	if n <= first {
		return adx, plusDI, minusDI
	}
	sum := 0.0
	for i := period; i <= first; i++ {
		sum += dx[i]
	}
	avg := sum / p
	adx[first] = avg
	for i := first + 1; i < n; i++ {
		avg = (avg*(p-1) + dx[i]) / p
		adx[i] = avg
	}
	return adx, plusDI, minusDI
}
