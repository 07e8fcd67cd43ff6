package estimator

import (
	"math"
	"math/rand"

	"batchml/internal/common"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// RecurrentModel is a single-layer LSTM over windows of consecutive rows
// followed by a linear output unit. Inputs and target are min-max scaled
// with scalers fitted on the training rows.
//
// Theta packs all weights: W (4H x F), U (4H x H), B (4H), V (H), c (1),
// with gate blocks ordered input, forget, cell, output.
type RecurrentModel struct {
	Window int
	Inputs int
	Hidden int
	Theta  []float64
	XScale *Scaler
	YScale *Scaler
}

type lstmLayout struct {
	F, H          int
	w, u, b, v, c int // offsets into Theta
	size          int
}

func newLayout(inputs, hidden int) lstmLayout {
	l := lstmLayout{F: inputs, H: hidden}
	l.w = 0
	l.u = l.w + 4*hidden*inputs
	l.b = l.u + 4*hidden*hidden
	l.v = l.b + 4*hidden
	l.c = l.v + hidden
	l.size = l.c + 1
	return l
}

// lstmCache keeps the activations of one forward pass for backpropagation.
type lstmCache struct {
	gates [][]float64 // activated i, f, g, o per step
	h, c  [][]float64 // states per step; index 0 is the zero state
}

func newCache(window, hidden int) *lstmCache {
	cache := &lstmCache{
		gates: make([][]float64, window),
		h:     make([][]float64, window+1),
		c:     make([][]float64, window+1),
	}
	for t := range cache.gates {
		cache.gates[t] = make([]float64, 4*hidden)
	}
	for t := range cache.h {
		cache.h[t] = make([]float64, hidden)
		cache.c[t] = make([]float64, hidden)
	}
	return cache
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func forward(l lstmLayout, theta []float64, seq [][]float64, cache *lstmCache) float64 {
	F, H := l.F, l.H
	for k := 0; k < H; k++ {
		cache.h[0][k] = 0
		cache.c[0][k] = 0
	}

	for t, x := range seq {
		a := cache.gates[t]
		hPrev := cache.h[t]
		for r := 0; r < 4*H; r++ {
			a[r] = theta[l.b+r] +
				floats.Dot(theta[l.w+r*F:l.w+(r+1)*F], x) +
				floats.Dot(theta[l.u+r*H:l.u+(r+1)*H], hPrev)
		}
		for k := 0; k < H; k++ {
			i := sigmoid(a[k])
			f := sigmoid(a[H+k])
			g := math.Tanh(a[2*H+k])
			o := sigmoid(a[3*H+k])
			a[k], a[H+k], a[2*H+k], a[3*H+k] = i, f, g, o

			c := f*cache.c[t][k] + i*g
			cache.c[t+1][k] = c
			cache.h[t+1][k] = o * math.Tanh(c)
		}
	}

	T := len(seq)
	return floats.Dot(theta[l.v:l.v+H], cache.h[T]) + theta[l.c]
}

// backward adds the gradient of the loss with respect to theta to grad,
// given dy = dLoss/dOutput for the sequence of the last forward pass.
func backward(l lstmLayout, theta []float64, seq [][]float64, cache *lstmCache, dy float64, grad []float64) {
	F, H := l.F, l.H
	T := len(seq)

	floats.AddScaled(grad[l.v:l.v+H], dy, cache.h[T])
	grad[l.c] += dy

	dh := make([]float64, H)
	floats.AddScaled(dh, dy, theta[l.v:l.v+H])
	dc := make([]float64, H)
	dz := make([]float64, 4*H)

	for t := T - 1; t >= 0; t-- {
		a := cache.gates[t]
		for k := 0; k < H; k++ {
			i, f, g, o := a[k], a[H+k], a[2*H+k], a[3*H+k]
			tc := math.Tanh(cache.c[t+1][k])

			do := dh[k] * tc
			dck := dc[k] + dh[k]*o*(1-tc*tc)
			di := dck * g
			dg := dck * i
			df := dck * cache.c[t][k]
			dc[k] = dck * f

			dz[k] = di * i * (1 - i)
			dz[H+k] = df * f * (1 - f)
			dz[2*H+k] = dg * (1 - g*g)
			dz[3*H+k] = do * o * (1 - o)
		}

		x := seq[t]
		hPrev := cache.h[t]
		for k := range dh {
			dh[k] = 0
		}
		for r := 0; r < 4*H; r++ {
			if dz[r] == 0 {
				continue
			}
			grad[l.b+r] += dz[r]
			floats.AddScaled(grad[l.w+r*F:l.w+(r+1)*F], dz[r], x)
			floats.AddScaled(grad[l.u+r*H:l.u+(r+1)*H], dz[r], hPrev)
			floats.AddScaled(dh, dz[r], theta[l.u+r*H:l.u+(r+1)*H])
		}
	}
}

// makeWindows pairs rows [i-w, i) with target i for every i >= w.
func makeWindows(X [][]float64, y []float64, w int) ([][][]float64, []float64, error) {
	count := len(X) - w
	if count <= 0 {
		return nil, nil, &common.InvalidSequenceError{Inputs: 0, Outputs: 0, Window: w}
	}
	seqs := make([][][]float64, 0, count)
	var targets []float64
	for i := w; i < len(X); i++ {
		seqs = append(seqs, X[i-w:i])
		if y != nil {
			targets = append(targets, y[i])
		}
	}
	if y != nil && len(seqs) != len(targets) {
		return nil, nil, &common.InvalidSequenceError{Inputs: len(seqs), Outputs: len(targets), Window: w}
	}
	return seqs, targets, nil
}

func initTheta(l lstmLayout, rng *rand.Rand) []float64 {
	theta := make([]float64, l.size)
	uniform := func(from, to int, limit float64) {
		for i := from; i < to; i++ {
			theta[i] = (rng.Float64()*2 - 1) * limit
		}
	}
	uniform(l.w, l.u, math.Sqrt(6/float64(l.F+4*l.H)))
	uniform(l.u, l.b, math.Sqrt(6/float64(l.H+4*l.H)))
	for k := 0; k < l.H; k++ {
		theta[l.b+l.H+k] = 1 // forget gate starts open
	}
	uniform(l.v, l.c, math.Sqrt(6/float64(l.H+1)))
	return theta
}

// adam is the Adam optimizer over a flat parameter vector.
type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(size int, lr float64) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-7,
		m:     make([]float64, size),
		v:     make([]float64, size),
	}
}

func (a *adam) step(theta, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		theta[i] -= a.lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + a.eps)
	}
}

func fitSequence(p *SequenceParams, X [][]float64, y []float64, o *trainOptions) (*RecurrentModel, error) {
	xScale, err := FitScaler(ScalerMinMax, X)
	if err != nil {
		return nil, err
	}
	yScale, err := FitScalerVector(ScalerMinMax, y)
	if err != nil {
		return nil, err
	}

	seqs, targets, err := makeWindows(xScale.Transform(X), yScale.TransformVector(y), p.WindowSize)
	if err != nil {
		return nil, err
	}

	// the last validation_split of the windows, in time order, is held out
	nTrain := int(float64(len(seqs)) * (1 - p.ValidationSplit))
	if nTrain < 1 || nTrain == len(seqs) {
		nTrain = len(seqs)
	}
	trainSeqs, trainY := seqs[:nTrain], targets[:nTrain]
	valSeqs, valY := seqs[nTrain:], targets[nTrain:]

	layout := newLayout(len(X[0]), p.HiddenUnits)
	rng := rand.New(rand.NewSource(p.RandomSeed))
	theta := initTheta(layout, rng)
	opt := newAdam(layout.size, p.LearningRate)

	cache := newCache(p.WindowSize, p.HiddenUnits)
	grad := make([]float64, layout.size)
	order := allRows(len(trainSeqs))

	best := math.Inf(1)
	bestTheta := append([]float64(nil), theta...)
	wait := 0
	epoch := 0

	for epoch = 1; epoch <= p.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		var trainLoss float64
		for start := 0; start < len(order); start += p.BatchSize {
			end := min(start+p.BatchSize, len(order))
			batch := order[start:end]
			scale := 1 / float64(len(batch))

			for i := range grad {
				grad[i] = 0
			}
			for _, idx := range batch {
				out := forward(layout, theta, trainSeqs[idx], cache)
				diff := out - trainY[idx]
				trainLoss += diff * diff
				backward(layout, theta, trainSeqs[idx], cache, 2*diff*scale, grad)
			}
			opt.step(theta, grad)
		}
		trainLoss /= float64(len(order))

		monitored := trainLoss
		if len(valSeqs) > 0 {
			monitored = sequenceLoss(layout, theta, valSeqs, valY, cache)
		}

		o.report(Progress{Family: Sequence, Stage: "epoch", Step: epoch, Total: p.Epochs, Loss: monitored})

		if monitored < best {
			best = monitored
			copy(bestTheta, theta)
			wait = 0
			continue
		}
		wait++
		if wait >= p.Patience {
			log.Debug().Int("epoch", epoch).Float64("best_loss", best).Msg("Early stopping")
			break
		}
	}

	return &RecurrentModel{
		Window: p.WindowSize,
		Inputs: layout.F,
		Hidden: layout.H,
		Theta:  bestTheta,
		XScale: xScale,
		YScale: yScale,
	}, nil
}

func sequenceLoss(l lstmLayout, theta []float64, seqs [][][]float64, y []float64, cache *lstmCache) float64 {
	var loss float64
	for i, seq := range seqs {
		d := forward(l, theta, seq, cache) - y[i]
		loss += d * d
	}
	return loss / float64(len(seqs))
}

// Predict returns one prediction per complete window, that is for rows
// Window..len(X)-1, in original target units.
func (m *RecurrentModel) Predict(X [][]float64) ([]float64, error) {
	seqs, _, err := makeWindows(m.XScale.Transform(X), nil, m.Window)
	if err != nil {
		return nil, err
	}

	layout := newLayout(m.Inputs, m.Hidden)
	cache := newCache(m.Window, m.Hidden)
	scaled := make([]float64, len(seqs))
	for i, seq := range seqs {
		scaled[i] = forward(layout, m.Theta, seq, cache)
	}
	return m.YScale.InverseVector(scaled), nil
}
